package service

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
	"gitlab.com/crypto_project/core/execution_service/src/sources/mongodb/models"
)

// noopStateMgmt keeps the engine runnable without mongo, for local use.
type noopStateMgmt struct{}

func (n *noopStateMgmt) SaveRun(*models.ExecutionRun) error { return nil }
func (n *noopStateMgmt) UpdateRunState(primitive.ObjectID, string, models.ProgressSnapshot) error {
	return nil
}
func (n *noopStateMgmt) SaveOrder(*models.ExecutionOrder) error             { return nil }
func (n *noopStateMgmt) UpdateOrderStatus(string, string, float64) error    { return nil }
func (n *noopStateMgmt) SaveReport(*models.ReconciliationReport) error      { return nil }
func (n *noopStateMgmt) GetTokenMeta(string) (*models.TokenMeta, bool)      { return nil, false }
func (n *noopStateMgmt) SaveTokenMeta(*models.TokenMeta)                    {}
func (n *noopStateMgmt) InvalidateTokenMeta(string)                         {}

// noopEventSink drops events when no redis endpoint is configured.
type noopEventSink struct{}

func (n *noopEventSink) Publish(interfaces.RunEvent) {}
func (n *noopEventSink) Close()                      {}
