package mongodb

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/sources/mongodb/models"
)

const (
	collRuns    = "execution_runs"
	collOrders  = "execution_orders"
	collReports = "execution_reports"
	collTokens  = "execution_token_meta"
)

// StateMgmt persists runs, child orders and reconciliation reports, and
// caches token metadata. Persistence failures are surfaced to the caller;
// the engine logs them and keeps trading.
type StateMgmt struct {
	tokenCache sync.Map // tokenID -> models.TokenMeta
}

func NewStateMgmt() *StateMgmt {
	return &StateMgmt{}
}

func (sm *StateMgmt) SaveRun(run *models.ExecutionRun) error {
	col := GetCollection(collRuns)
	_, err := col.InsertOne(context.TODO(), run)
	return err
}

func (sm *StateMgmt) UpdateRunState(runID primitive.ObjectID, state string, progress models.ProgressSnapshot) error {
	col := GetCollection(collRuns)
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "state", Value: state},
			{Key: "progress", Value: progress},
			{Key: "updatedAt", Value: time.Now().UnixMilli()},
		}},
	}
	_, err := col.UpdateOne(context.TODO(), bson.D{{Key: "_id", Value: runID}}, update)
	return err
}

// SaveOrder upserts by local id so every status change overwrites the same
// history record.
func (sm *StateMgmt) SaveOrder(order *models.ExecutionOrder) error {
	col := GetCollection(collOrders)
	opts := options.Replace().SetUpsert(true)
	_, err := col.ReplaceOne(context.TODO(), bson.D{{Key: "localId", Value: order.LocalID}}, order, opts)
	return err
}

func (sm *StateMgmt) UpdateOrderStatus(localID, status string, filled float64) error {
	col := GetCollection(collOrders)
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: status},
			{Key: "filled", Value: filled},
			{Key: "updatedAt", Value: time.Now().UnixMilli()},
		}},
	}
	_, err := col.UpdateOne(context.TODO(), bson.D{{Key: "localId", Value: localID}}, update)
	return err
}

func (sm *StateMgmt) SaveReport(report *models.ReconciliationReport) error {
	col := GetCollection(collReports)
	_, err := col.InsertOne(context.TODO(), report)
	return err
}

func (sm *StateMgmt) GetTokenMeta(tokenID string) (*models.TokenMeta, bool) {
	if cached, ok := sm.tokenCache.Load(tokenID); ok {
		meta := cached.(models.TokenMeta)
		return &meta, true
	}
	col := GetCollection(collTokens)
	var meta models.TokenMeta
	err := col.FindOne(context.TODO(), bson.D{{Key: "tokenId", Value: tokenID}}).Decode(&meta)
	if err != nil {
		return nil, false
	}
	sm.tokenCache.Store(tokenID, meta)
	return &meta, true
}

func (sm *StateMgmt) SaveTokenMeta(meta *models.TokenMeta) {
	meta.UpdatedAt = time.Now().UnixMilli()
	sm.tokenCache.Store(meta.TokenID, *meta)
	col := GetCollection(collTokens)
	opts := options.Replace().SetUpsert(true)
	_, err := col.ReplaceOne(context.TODO(), bson.D{{Key: "tokenId", Value: meta.TokenID}}, meta, opts)
	if err != nil {
		log.Error("token meta save", zap.Error(err))
	}
}

// InvalidateTokenMeta drops the cached entry; the next read goes to storage.
func (sm *StateMgmt) InvalidateTokenMeta(tokenID string) {
	sm.tokenCache.Delete(tokenID)
}
