package interfaces

import (
	"gitlab.com/crypto_project/core/execution_service/src/sources/mongodb/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IStateMgmt persists run and order state for the monitoring layer and
// serves the token metadata cache. Implementations must tolerate being
// called from the decision loop: failures are logged, never propagated as
// trading decisions.
type IStateMgmt interface {
	SaveRun(run *models.ExecutionRun) error
	UpdateRunState(runID primitive.ObjectID, state string, progress models.ProgressSnapshot) error
	SaveOrder(order *models.ExecutionOrder) error
	UpdateOrderStatus(localID string, status string, filled float64) error
	SaveReport(report *models.ReconciliationReport) error
	GetTokenMeta(tokenID string) (*models.TokenMeta, bool)
	SaveTokenMeta(meta *models.TokenMeta)
	InvalidateTokenMeta(tokenID string)
}
