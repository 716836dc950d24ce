package checkout

import (
	"fmt"
	"time"

	"boxoffice/clock"
	"boxoffice/entity"

	"github.com/golang-jwt/jwt/v5"
)

type confirmationClaims struct {
	EventFunctionID string           `json:"efn"`
	Selection       entity.Selection `json:"sel"`
	jwt.RegisteredClaims
}

// confirmationTokens signs the validated selection handed back by Confirm,
// so Reserve only accepts selections that went through validation.
type confirmationTokens struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func (t confirmationTokens) issue(eventFunctionID string, selection entity.Selection) (string, time.Time, error) {
	now := t.clock.Now()
	expiresAt := now.Add(t.ttl)

	claims := confirmationClaims{
		EventFunctionID: eventFunctionID,
		Selection:       selection,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing confirmation token: %w", err)
	}

	return token, expiresAt, nil
}

func (t confirmationTokens) verify(token string) (confirmationClaims, error) {
	var claims confirmationClaims

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return confirmationClaims{}, fmt.Errorf("%w: confirmation token: %w", entity.ErrInvalidSelection, err)
	}

	return claims, nil
}
