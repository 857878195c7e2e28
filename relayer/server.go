package relayer

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/metrics"
	"github.com/lockedworlds/lockedworlds/rpc"
)

// KMS checks grants and decrypts handles. *fhe.KMS implements it.
type KMS interface {
	IsAllowed(handle common.Hash, account common.Address) (bool, error)
	Decrypt(handle common.Hash) (*big.Int, error)
}

// Config configures the relayer server.
type Config struct {
	ChainID     *big.Int
	Verifier    common.Address
	ACL         common.Address
	CORSOrigins []string
	// RequestsPerSecond is the per-client request rate; zero disables
	// rate limiting.
	RequestsPerSecond float64
	Burst             int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the local network configuration.
func DefaultConfig(chainID *big.Int) *Config {
	return &Config{
		ChainID:           chainID,
		Verifier:          DefaultVerifier,
		ACL:               DefaultACL,
		CORSOrigins:       []string{"*"},
		RequestsPerSecond: 20,
		Burst:             40,
		Now:               time.Now,
	}
}

// Server is the relayer's REST API.
type Server struct {
	cfg     *Config
	kms     KMS
	handler http.Handler
	log     *log.Logger
	limiter *rpc.ClientLimiter
}

// NewServer creates a relayer serving decryptions from kms.
func NewServer(cfg *Config, kms KMS) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg: cfg,
		kms: kms,
		log: log.Module("relayer"),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rpc.NewClientLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID(), s.accessLog())
	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	v1.GET("/keyurl", s.keyURL)
	v1.POST("/user-decrypt", s.rateLimit(), s.userDecrypt)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}).Handler(router)
	return s
}

// Handler returns the HTTP handler of the relayer.
func (s *Server) Handler() http.Handler { return s.handler }

// ---- Middleware ----

const requestIDHeader = "X-Request-Id"

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"id", c.GetString("requestId"))
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		if !s.limiter.Allow(c.ClientIP()) {
			metrics.DecryptRequests.WithLabelValues("rate_limited").Inc()
			abortWithError(c, newError(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, err *Error) {
	c.AbortWithStatusJSON(err.Status, err)
}

// ---- Handlers ----

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) keyURL(c *gin.Context) {
	c.JSON(http.StatusOK, &KeyInfo{
		ChainID:           s.cfg.ChainID.String(),
		VerifyingContract: s.cfg.Verifier.Hex(),
		ACLContract:       s.cfg.ACL.Hex(),
		MaxHandles:        MaxHandlesPerRequest,
	})
}

func (s *Server) userDecrypt(c *gin.Context) {
	start := time.Now()
	defer func() { metrics.DecryptLatency.Observe(time.Since(start).Seconds()) }()

	var req UserDecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, badRequest(CodeInvalidRequest, "malformed request body: %v", err))
		return
	}
	resp, err := s.process(&req)
	if err != nil {
		var rerr *Error
		if !errors.As(err, &rerr) {
			s.log.Error("User decryption failed", "err", err)
			rerr = newError(http.StatusInternalServerError, CodeInternal, "decryption failed")
		}
		s.reject(c, rerr)
		return
	}
	resp.RequestID = c.GetString("requestId")
	metrics.DecryptRequests.WithLabelValues("served").Inc()
	metrics.DecryptHandles.Add(float64(len(resp.Response)))
	s.log.Info("User decryption served", "user", req.UserAddress, "handles", len(resp.Response), "id", resp.RequestID)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reject(c *gin.Context, err *Error) {
	metrics.DecryptRequests.WithLabelValues("rejected").Inc()
	s.log.Debug("User decryption rejected", "code", err.Code, "msg", err.Message, "id", c.GetString("requestId"))
	abortWithError(c, err)
}

type decryptPair struct {
	handle   common.Hash
	contract common.Address
}

// process validates an authorization and decrypts its handles. Checks run
// in a fixed order: batch shape, listed contracts, validity window,
// signature and finally the access-control list.
func (s *Server) process(req *UserDecryptRequest) (*UserDecryptResponse, error) {
	n := len(req.HandleContractPairs)
	if n == 0 {
		return nil, badRequest(CodeInvalidRequest, "no handles requested")
	}
	if n > MaxHandlesPerRequest {
		return nil, badRequest(CodeTooManyHandles, "%d handles requested, at most %d allowed", n, MaxHandlesPerRequest)
	}
	if req.ContractsChainID != "" && req.ContractsChainID != s.cfg.ChainID.String() {
		return nil, badRequest(CodeChainMismatch, "chain id %s, relayer serves %s", req.ContractsChainID, s.cfg.ChainID)
	}
	if !common.IsHexAddress(req.UserAddress) {
		return nil, badRequest(CodeInvalidRequest, "invalid user address %q", req.UserAddress)
	}
	user := common.HexToAddress(req.UserAddress)

	listed := make(map[common.Address]bool, len(req.ContractAddresses))
	contracts := make([]common.Address, 0, len(req.ContractAddresses))
	for _, a := range req.ContractAddresses {
		if !common.IsHexAddress(a) {
			return nil, badRequest(CodeInvalidRequest, "invalid contract address %q", a)
		}
		addr := common.HexToAddress(a)
		listed[addr] = true
		contracts = append(contracts, addr)
	}
	pairs := make([]decryptPair, n)
	for i, p := range req.HandleContractPairs {
		raw, err := decodeHex(p.Handle)
		if err != nil || len(raw) != common.HashLength {
			return nil, badRequest(CodeInvalidRequest, "invalid handle %q", p.Handle)
		}
		if !common.IsHexAddress(p.ContractAddress) {
			return nil, badRequest(CodeInvalidRequest, "invalid contract address %q", p.ContractAddress)
		}
		pairs[i] = decryptPair{handle: common.BytesToHash(raw), contract: common.HexToAddress(p.ContractAddress)}
		if !listed[pairs[i].contract] {
			return nil, badRequest(CodeContractNotListed, "contract %s is not in contractAddresses", pairs[i].contract.Hex())
		}
	}

	startTs, days, err := s.checkWindow(req.RequestValidity)
	if err != nil {
		return nil, err
	}

	pub, err := decodeHex(req.PublicKey)
	if err != nil {
		return nil, badRequest(CodeInvalidRequest, "invalid public key")
	}
	if _, err := crypto.UnmarshalPubkey(pub); err != nil {
		return nil, badRequest(CodeInvalidRequest, "invalid public key: %v", err)
	}
	var extra []byte
	if req.ExtraData != "" {
		if extra, err = decodeHex(req.ExtraData); err != nil {
			return nil, badRequest(CodeInvalidRequest, "invalid extra data")
		}
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		return nil, badRequest(CodeInvalidSignature, "signature is not hex")
	}
	typed := CreateEIP712(pub, contracts, startTs, days, s.cfg.ChainID, s.cfg.Verifier, extra)
	signer, err := RecoverSigner(typed, sig)
	if err != nil || signer != user {
		return nil, forbidden(CodeInvalidSignature, "signature does not match user %s", user.Hex())
	}

	for _, p := range pairs {
		for _, acct := range []common.Address{user, p.contract} {
			ok, err := s.kms.IsAllowed(p.handle, acct)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, forbidden(CodeNotAllowed, "%s is not allowed to decrypt %s", acct.Hex(), p.handle.Hex())
			}
		}
	}

	resp := &UserDecryptResponse{Response: make([]DecryptedShare, 0, n)}
	for _, p := range pairs {
		value, err := s.kms.Decrypt(p.handle)
		if err != nil {
			return nil, err
		}
		sealed, err := seal(pub, value)
		if err != nil {
			return nil, err
		}
		resp.Response = append(resp.Response, DecryptedShare{Handle: p.handle.Hex(), Payload: hexutil.Encode(sealed)})
	}
	return resp, nil
}

func (s *Server) checkWindow(v RequestValidity) (int64, int64, error) {
	start, err := strconv.ParseInt(strings.TrimSpace(v.StartTimestamp), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, badRequest(CodeInvalidWindow, "invalid start timestamp %q", v.StartTimestamp)
	}
	days, err := strconv.ParseInt(strings.TrimSpace(v.DurationDays), 10, 64)
	if err != nil {
		return 0, 0, badRequest(CodeInvalidWindow, "invalid duration %q", v.DurationDays)
	}
	if days < 1 || days > MaxDurationDays {
		return 0, 0, badRequest(CodeInvalidWindow, "duration must be between 1 and %d days", MaxDurationDays)
	}
	now := s.cfg.Now()
	if time.Unix(start, 0).After(now.Add(MaxClockSkew)) {
		return 0, 0, badRequest(CodeInvalidWindow, "start timestamp is in the future")
	}
	if now.After(time.Unix(start, 0).Add(time.Duration(days) * 24 * time.Hour)) {
		return 0, 0, badRequest(CodeExpired, "authorization expired")
	}
	return start, days, nil
}
