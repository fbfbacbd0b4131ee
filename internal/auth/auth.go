// Package auth выполняет проверку подписанных сессионных данных мини-приложения.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ключ-разделитель доменов при выводе секретного ключа подписи.
const secretKeyDomain = "WebAppData"

var (
	// ErrNoPayload возвращается при отсутствии сессионных данных или секрета.
	ErrNoPayload = errors.New("session payload or secret is missing")
	// ErrBadSignature возвращается при несовпадении подписи.
	ErrBadSignature = errors.New("session signature mismatch")
	// ErrSessionExpired возвращается, если сессионные данные старше допустимого окна.
	ErrSessionExpired = errors.New("session payload expired")
)

// Authenticator проверяет подпись и свежесть сессионных данных.
type Authenticator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewAuthenticator создаёт Authenticator с указанным секретом и окном свежести.
func NewAuthenticator(secret string, maxAge time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Validate проверяет подписанные сессионные данные.
//
// Данные представляют собой строку query-параметров. Поле hash содержит
// подпись; остальные пары сортируются по ключу и соединяются строками
// key=value через перевод строки, после чего подпись сверяется как
// HMAC-SHA256 под ключом, выведенным из секрета. Поле auth_date обязано
// присутствовать и быть не старше окна свежести.
func (a *Authenticator) Validate(payload string) error {
	if payload == "" || len(a.secret) == 0 {
		return ErrNoPayload
	}

	values, err := url.ParseQuery(payload)
	if err != nil {
		return fmt.Errorf("parse session payload: %w", err)
	}

	suppliedHash := values.Get("hash")
	if suppliedHash == "" {
		return ErrBadSignature
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	checkString := strings.Join(pairs, "\n")

	keyMAC := hmac.New(sha256.New, []byte(secretKeyDomain))
	keyMAC.Write(a.secret)
	secretKey := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	expected := mac.Sum(nil)

	supplied, err := hex.DecodeString(suppliedHash)
	if err != nil || !hmac.Equal(supplied, expected) {
		return ErrBadSignature
	}

	authDate := values.Get("auth_date")
	if authDate == "" {
		return ErrSessionExpired
	}

	issuedAt, err := strconv.ParseInt(authDate, 10, 64)
	if err != nil {
		return ErrSessionExpired
	}

	if a.now().Sub(time.Unix(issuedAt, 0)) > a.maxAge {
		return ErrSessionExpired
	}

	return nil
}
