package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserStore keeps users in the "users" collection with a unique index on
// email.
type MongoUserStore struct {
	col *mongo.Collection
}

func NewMongoUserStore(ctx context.Context, db *mongo.Database) (*MongoUserStore, error) {
	col := db.Collection("users")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create email index: %w", err)
	}
	return &MongoUserStore{col: col}, nil
}

func (s *MongoUserStore) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Gardens == nil {
		u.Gardens = []GardenMembership{}
	}
	if _, err := s.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoUserStore) MarkEmailVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "emailVerified": false},
		bson.M{"$set": bson.M{"emailVerified": true, "emailVerifiedAt": at, "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrUserNotFound
	}
	return false, nil
}

func (s *MongoUserStore) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	return s.set(ctx, id, bson.M{"phoneVerified": true, "phoneVerifiedAt": at, "updatedAt": at})
}

func (s *MongoUserStore) UpdatePassword(ctx context.Context, id, hash string) error {
	return s.set(ctx, id, bson.M{"passwordHash": hash, "updatedAt": time.Now().UTC()})
}

func (s *MongoUserStore) SetTwoFactorSecret(ctx context.Context, id, method string, secret *string) error {
	return s.set(ctx, id, bson.M{"twoFactorMethod": method, "twoFactorSecret": secret, "updatedAt": time.Now().UTC()})
}

func (s *MongoUserStore) EnableTwoFactor(ctx context.Context, id, method string) error {
	return s.set(ctx, id, bson.M{"twoFactorEnabled": true, "twoFactorMethod": method, "updatedAt": time.Now().UTC()})
}

func (s *MongoUserStore) DisableTwoFactor(ctx context.Context, id string) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"twoFactorEnabled": false, "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"twoFactorMethod": "", "twoFactorSecret": ""},
	})
	if err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var u User
	if err := s.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *MongoUserStore) set(ctx context.Context, id string, fields bson.M) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
