package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	ta "github.com/panyam/tokenauth"
)

// Connect opens a client for uri and verifies it with a ping
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Store implements tokenauth.UserStore and tokenauth.TokenStore on MongoDB
type Store struct {
	db *mongo.Database

	// TokenRetention delays the TTL purge of expired tokens.
	// Defaults to tokenauth.ExpiredTokenRetention.
	TokenRetention time.Duration
}

// NewStore creates a store over the given database
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) users() *mongo.Collection {
	return s.db.Collection(CollectionUsers)
}

func (s *Store) tokens(tokenType ta.TokenType) (*mongo.Collection, error) {
	switch tokenType {
	case ta.TokenTypeRefresh:
		return s.db.Collection(CollectionRefreshTokens), nil
	case ta.TokenTypePasswordReset:
		return s.db.Collection(CollectionPasswordResetTokens), nil
	}
	return nil, fmt.Errorf("unknown token type %q", tokenType)
}

// EnsureIndexes creates the unique email index, token lookup indexes and
// TTL indexes that let MongoDB purge tokens once TokenRetention has passed
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "services.facebook", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "services.google", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	retention := s.TokenRetention
	if retention <= 0 {
		retention = ta.ExpiredTokenRetention
	}
	ttl := options.Index().SetExpireAfterSeconds(int32(retention / time.Second))
	for _, tokenType := range []ta.TokenType{ta.TokenTypeRefresh, ta.TokenTypePasswordReset} {
		coll, _ := s.tokens(tokenType)
		_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "token", Value: 1}, {Key: "userEmail", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "expires", Value: 1}}, Options: ttl},
		})
		if err != nil {
			return fmt.Errorf("create %s token indexes: %w", tokenType, err)
		}
	}
	return nil
}

// =============================================================================
// UserStore
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *ta.User) error {
	now := time.Now().UTC()
	u.Email = ta.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	id := bson.NewObjectID()
	if _, err := s.users().InsertOne(ctx, UserToDocument(u, id)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id.Hex()
	return nil
}

func (s *Store) findOne(ctx context.Context, filter any) (*ta.User, error) {
	var doc UserDocument
	if err := s.users().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ta.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.ToUser(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*ta.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ta.ErrUserNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ta.User, error) {
	email = ta.NormalizeEmail(email)
	if email == "" {
		return nil, ta.ErrUserNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *Store) FindUserByServiceOrEmail(ctx context.Context, service, externalID, email string) (*ta.User, error) {
	if externalID != "" {
		u, err := s.findOne(ctx, bson.D{{Key: "services." + service, Value: externalID}})
		if err == nil || !errors.Is(err, ta.ErrUserNotFound) {
			return u, err
		}
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *Store) SaveUser(ctx context.Context, u *ta.User) error {
	oid, err := bson.ObjectIDFromHex(u.ID)
	if err != nil {
		return ta.ErrUserNotFound
	}
	u.Email = ta.NormalizeEmail(u.Email)
	u.UpdatedAt = time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "email", Value: u.Email},
		{Key: "password", Value: u.PasswordHash},
		{Key: "name", Value: u.Name},
		{Key: "picture", Value: u.Picture},
		{Key: "role", Value: string(u.Role)},
		{Key: "services", Value: ServicesDocument{Facebook: u.Services.Facebook, Google: u.Services.Google}},
		{Key: "updatedAt", Value: u.UpdatedAt},
	}}}
	res, err := s.users().UpdateByID(ctx, oid, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ta.ErrDuplicateEmail
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ta.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, opts ta.ListOptions) ([]*ta.User, error) {
	opts = opts.Normalized()
	filter := bson.D{}
	if opts.Name != "" {
		filter = append(filter, bson.E{Key: "name", Value: opts.Name})
	}
	if opts.Email != "" {
		filter = append(filter, bson.E{Key: "email", Value: opts.Email})
	}
	if opts.Role != "" {
		filter = append(filter, bson.E{Key: "role", Value: string(opts.Role)})
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(opts.Offset())).
		SetLimit(int64(opts.PerPage))

	cursor, err := s.users().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []UserDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*ta.User, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].ToUser())
	}
	return out, nil
}

// =============================================================================
// TokenStore
// =============================================================================

func (s *Store) SaveToken(ctx context.Context, t *ta.AuthToken) error {
	coll, err := s.tokens(t.Type)
	if err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, AuthTokenToDocument(t)); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// ConsumeToken relies on FindOneAndDelete being atomic per document
func (s *Store) ConsumeToken(ctx context.Context, tokenType ta.TokenType, email, token string) (*ta.AuthToken, error) {
	coll, err := s.tokens(tokenType)
	if err != nil {
		return nil, err
	}
	filter := bson.D{
		{Key: "token", Value: token},
		{Key: "userEmail", Value: ta.NormalizeEmail(email)},
	}
	var doc TokenDocument
	if err := coll.FindOneAndDelete(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ta.ErrTokenNotFound
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return doc.ToAuthToken(tokenType), nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string, tokenType ta.TokenType) error {
	coll, err := s.tokens(tokenType)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteMany(ctx, bson.D{{Key: "userId", Value: userID}}); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	return nil
}

func (s *Store) CleanupExpiredTokens(ctx context.Context, cutoff time.Time) error {
	for _, tokenType := range []ta.TokenType{ta.TokenTypeRefresh, ta.TokenTypePasswordReset} {
		coll, _ := s.tokens(tokenType)
		filter := bson.D{{Key: "expires", Value: bson.D{{Key: "$lte", Value: cutoff}}}}
		if _, err := coll.DeleteMany(ctx, filter); err != nil {
			return fmt.Errorf("cleanup %s tokens: %w", tokenType, err)
		}
	}
	return nil
}
