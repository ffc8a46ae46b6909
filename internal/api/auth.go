package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	headerOwner     = "X-Owner"
	headerSignature = "X-Signature"
	ownerKey        = "owner"
)

var (
	errBadSignature = errors.New("invalid signature")
	errStale        = errors.New("request timestamp outside allowed skew")
	errReplay       = errors.New("request already processed")
)

// signed verifies that X-Signature is the X-Owner's ed25519 signature over
// the raw body. The body must carry a unix "timestamp" within MaxSkew, and a
// signature is accepted once.
func (s *Server) signed() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := solana.PublicKeyFromBase58(c.GetHeader(headerOwner))
		if err != nil {
			respondError(c, http.StatusUnauthorized, fmt.Errorf("%s: %w", headerOwner, errBadSignature))
			return
		}
		sig, err := solana.SignatureFromBase58(c.GetHeader(headerSignature))
		if err != nil {
			respondError(c, http.StatusUnauthorized, fmt.Errorf("%s: %w", headerSignature, errBadSignature))
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxBodyBytes+1))
		if err != nil {
			respondError(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
			return
		}
		if int64(len(body)) > s.cfg.MaxBodyBytes {
			respondError(c, http.StatusRequestEntityTooLarge, fmt.Errorf("body larger than %d bytes", s.cfg.MaxBodyBytes))
			return
		}
		if !sig.Verify(owner, body) {
			respondError(c, http.StatusUnauthorized, errBadSignature)
			return
		}

		ts := gjson.GetBytes(body, "timestamp")
		if !ts.Exists() {
			respondError(c, http.StatusBadRequest, fmt.Errorf("timestamp is required"))
			return
		}
		if skew := s.now().Sub(time.Unix(ts.Int(), 0)); skew > s.cfg.MaxSkew || skew < -s.cfg.MaxSkew {
			respondError(c, http.StatusUnauthorized, errStale)
			return
		}
		fresh, err := s.replay.Add(c.Request.Context(), crypto.Keccak256Hash(sig[:]))
		if err != nil {
			respondFailure(c, fmt.Errorf("replay check: %w", err))
			return
		}
		if !fresh {
			respondError(c, http.StatusConflict, errReplay)
			return
		}

		s.logger.Debug("signed request", zap.String("owner", owner.String()), zap.String("path", c.FullPath()))
		c.Set(ownerKey, owner)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// operator restricts a signed route to the configured operator key.
func (s *Server) operator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Operator.IsZero() || !ownerFrom(c).Equals(s.cfg.Operator) {
			respondError(c, http.StatusForbidden, errors.New("operator key required"))
			return
		}
		c.Next()
	}
}

func ownerFrom(c *gin.Context) solana.PublicKey {
	v, _ := c.Get(ownerKey)
	owner, _ := v.(solana.PublicKey)
	return owner
}
