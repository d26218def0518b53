package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	ta "github.com/panyam/tokenauth"
)

// Collection names
const (
	CollectionUsers               = "users"
	CollectionRefreshTokens       = "refresh_tokens"
	CollectionPasswordResetTokens = "password_reset_tokens"
)

// ServicesDocument holds linked provider ids
type ServicesDocument struct {
	Facebook string `bson:"facebook,omitempty"`
	Google   string `bson:"google,omitempty"`
}

// UserDocument is the stored form of a user
type UserDocument struct {
	ID        bson.ObjectID    `bson:"_id,omitempty"`
	Email     string           `bson:"email"`
	Password  string           `bson:"password"`
	Name      string           `bson:"name,omitempty"`
	Picture   string           `bson:"picture,omitempty"`
	Role      string           `bson:"role"`
	Services  ServicesDocument `bson:"services"`
	CreatedAt time.Time        `bson:"createdAt"`
	UpdatedAt time.Time        `bson:"updatedAt"`
}

func (d *UserDocument) ToUser() *ta.User {
	return &ta.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.Password,
		Name:         d.Name,
		Picture:      d.Picture,
		Role:         ta.Role(d.Role),
		Services:     ta.Services{Facebook: d.Services.Facebook, Google: d.Services.Google},
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func UserToDocument(u *ta.User, id bson.ObjectID) *UserDocument {
	return &UserDocument{
		ID:        id,
		Email:     u.Email,
		Password:  u.PasswordHash,
		Name:      u.Name,
		Picture:   u.Picture,
		Role:      string(u.Role),
		Services:  ServicesDocument{Facebook: u.Services.Facebook, Google: u.Services.Google},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// TokenDocument is the stored form of a refresh or reset token.
// The token type is implied by the collection.
type TokenDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Token     string        `bson:"token"`
	UserID    string        `bson:"userId"`
	UserEmail string        `bson:"userEmail"`
	CreatedAt time.Time     `bson:"createdAt"`
	Expires   time.Time     `bson:"expires"`
}

func (d *TokenDocument) ToAuthToken(tokenType ta.TokenType) *ta.AuthToken {
	return &ta.AuthToken{
		Token:     d.Token,
		Type:      tokenType,
		UserID:    d.UserID,
		Email:     d.UserEmail,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.Expires,
	}
}

func AuthTokenToDocument(t *ta.AuthToken) *TokenDocument {
	return &TokenDocument{
		Token:     t.Token,
		UserID:    t.UserID,
		UserEmail: t.Email,
		CreatedAt: t.CreatedAt,
		Expires:   t.ExpiresAt,
	}
}
