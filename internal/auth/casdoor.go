package auth

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
)

type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// TokenParser verifies a Casdoor-issued JWT.
type TokenParser interface {
	ParseJwtToken(token string) (*casdoorsdk.Claims, error)
}

// CasdoorAuthenticator derives identities from Casdoor access tokens.
type CasdoorAuthenticator struct {
	parser TokenParser
}

func NewCasdoorAuthenticator(config CasdoorConfig) *CasdoorAuthenticator {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)
	return NewCasdoorAuthenticatorWithParser(client)
}

func NewCasdoorAuthenticatorWithParser(parser TokenParser) *CasdoorAuthenticator {
	return &CasdoorAuthenticator{parser: parser}
}

func (a *CasdoorAuthenticator) Authenticate(ctx context.Context, credentials Credentials) (*models.Identity, error) {
	if credentials.Token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := a.parser.ParseJwtToken(credentials.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	userID := claims.User.Id
	if userID == "" {
		userID = claims.User.Name
	}
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	locale := credentials.Locale
	if locale == "" {
		locale = claims.User.Language
	}

	return &models.Identity{
		UserID: userID,
		Role:   roleFromClaims(claims),
		Locale: locale,
	}, nil
}

// roleFromClaims picks the most privileged known role on the token.
func roleFromClaims(claims *casdoorsdk.Claims) models.UserRole {
	if claims.User.IsAdmin {
		return models.RoleAdmin
	}

	best := models.RoleStudent
	for _, role := range claims.User.Roles {
		if role == nil {
			continue
		}
		parsed, err := ParseRole(role.Name)
		if err != nil {
			continue
		}
		if rolePriority[parsed] > rolePriority[best] {
			best = parsed
		}
	}
	return best
}

var rolePriority = map[models.UserRole]int{
	models.RoleStudent:    0,
	models.RoleTeacher:    1,
	models.RoleInstructor: 1,
	models.RoleProctor:    2,
	models.RoleAdmin:      3,
}
