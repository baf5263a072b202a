package api

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"rentchain/internal/lifecycle"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// deployRequest is the JSON body for publishing a new listing. Monetary
// amounts are decimal strings in the chain's smallest unit (wei); floats are
// rejected by parsing.
type deployRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`

	Owner         string `json:"owner" binding:"required"`
	Renter        string `json:"renter" binding:"required"`
	ContentHash   string `json:"content_hash" binding:"required"`
	RentAmount    string `json:"rent_amount" binding:"required"`
	DepositAmount string `json:"deposit_amount" binding:"required"`
	DurationDays  uint64 `json:"duration_days" binding:"required"`
}

// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "rentchain",
	})
}

// GET /api/listings?limit=&offset=
func (s *Server) handleListListings(c *gin.Context) {
	limit, offset := pagination(c)

	listings, err := s.store.ListListings(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	c.JSON(http.StatusOK, listings)
}

// GET /api/listings/:id
func (s *Server) handleGetListing(c *gin.Context) {
	listing, err := s.store.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// GET /api/owners/:owner/listings
func (s *Server) handleListByOwner(c *gin.Context) {
	owner := c.Param("owner")
	if !common.IsHexAddress(owner) {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), "owner must be a hex address"))
		return
	}
	limit, offset := pagination(c)

	listings, err := s.store.ListListingsByOwner(c.Request.Context(), owner, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	c.JSON(http.StatusOK, listings)
}

// GET /api/listings/:id/agreement returns the live on-chain view of the
// listing's agreement, bypassing the stored projection entirely
func (s *Server) handleGetAgreement(c *gin.Context) {
	listing, err := s.store.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if listing.ContractAddress == nil {
		c.JSON(http.StatusConflict, errorBody(string(models.FaultInvalidStateTransition), "listing has no deployed agreement"))
		return
	}

	view, err := s.reader.FetchView(c.Request.Context(), common.HexToAddress(*listing.ContractAddress))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// POST /api/listings
func (s *Server) handleDeploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), err.Error()))
		return
	}

	rent, ok := parseWei(req.RentAmount)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), "rent_amount must be a decimal integer in smallest units"))
		return
	}
	deposit, ok := parseWei(req.DepositAmount)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), "deposit_amount must be a decimal integer in smallest units"))
		return
	}
	if !common.IsHexAddress(req.Owner) || !common.IsHexAddress(req.Renter) {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), "owner and renter must be hex addresses"))
		return
	}
	if rent.Sign() == 0 {
		c.JSON(http.StatusBadRequest, errorBody(string(models.FaultInvalidArgument), "rent_amount must be positive"))
		return
	}

	listing, err := s.coordinator.Deploy(c.Request.Context(), lifecycle.DeployRequest{
		Title:         req.Title,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		Owner:         req.Owner,
		Renter:        req.Renter,
		ContentHash:   req.ContentHash,
		RentAmount:    rent,
		DepositAmount: deposit,
		DurationDays:  req.DurationDays,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// POST /api/listings/:id/activate
func (s *Server) handleActivate(c *gin.Context) {
	listing, err := s.coordinator.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// POST /api/listings/:id/terminate
func (s *Server) handleTerminate(c *gin.Context) {
	listing, err := s.coordinator.Terminate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// POST /api/listings/:id/reconcile triggers an on-demand reconciliation of one
// listing against chain truth
func (s *Server) handleReconcile(c *gin.Context) {
	listing, err := s.coordinator.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// respondError maps fault kinds to HTTP statuses. Anything without a fault
// kind is an internal error.
func (s *Server) respondError(c *gin.Context, err error) {
	kind, ok := models.KindOf(err)
	if !ok {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorBody(string(models.FaultNotFound), err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case models.FaultInvalidArgument:
		status = http.StatusBadRequest
	case models.FaultNotFound:
		status = http.StatusNotFound
	case models.FaultInvalidStateTransition:
		status = http.StatusConflict
	case models.FaultChainRejected:
		status = http.StatusUnprocessableEntity
	case models.FaultSignerFailure, models.FaultAggregationFailure:
		status = http.StatusBadGateway
	case models.FaultConfirmationTimeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, errorBody(string(kind), err.Error()))
}

func errorBody(kind, detail string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "detail": detail}}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseWei parses a base-10 smallest-unit amount, rejecting signs, decimals,
// and anything else big.Int base-10 parsing does not accept
func parseWei(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
