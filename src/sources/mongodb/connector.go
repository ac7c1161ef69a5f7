package mongodb

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

var mongoClient *mongo.Client
var log *zap.Logger

func init() {
	log, _ = zap.NewProduction()
	log = log.With(zap.String("logger", "srcMongo"))
}

func GetCollection(colName string) *mongo.Collection {
	client := GetMongoClientInstance()
	return client.Database(os.Getenv("MONGODBNAME")).Collection(colName)
}

func GetMongoClientInstance() *mongo.Client {
	if mongoClient == nil {
		url := os.Getenv("MONGODB")
		client, err := Connect(url, 10*time.Second)
		if err != nil {
			log.Error("mongo connect", zap.Error(err))
		}
		mongoClient = client
	}
	return mongoClient
}

func Connect(url string, connectTimeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	isLocalBuild := os.Getenv("LOCAL") == "true"
	return mongo.Connect(ctx, options.Client().SetDirect(isLocalBuild).
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.New(writeconcern.WMajority())).
		SetRetryWrites(true).
		SetConnectTimeout(connectTimeout).ApplyURI(url))
}
