package handler

import (
	"mindwell-platform/internal/adapter/http/dto"
	"mindwell-platform/internal/adapter/http/middleware"
	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/pkg/apperror"
	"mindwell-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BillingHandler exposes the vendor billing portal.
type BillingHandler struct {
	provider ports.BillingProvider // nil = billing disabled
	log      zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(provider ports.BillingProvider, log zerolog.Logger) *BillingHandler {
	return &BillingHandler{provider: provider, log: log}
}

// Portal handles POST /api/v1/billing/portal. Resolves the vendor
// customer for the authenticated user and opens a self-service session.
func (h *BillingHandler) Portal(c *gin.Context) {
	if h.provider == nil {
		response.Error(c, apperror.ErrBillingUnavailable())
		return
	}

	v, ok := c.Get(middleware.CtxUser)
	if !ok {
		response.Error(c, apperror.ErrInvalidSession())
		return
	}
	user := v.(*domain.User)

	customerID, err := h.provider.EnsureCustomer(c.Request.Context(), user.ID, user.Email)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("billing customer resolution failed")
		response.Error(c, apperror.ErrDependencyTimeout(err))
		return
	}

	url, err := h.provider.CreatePortalSession(c.Request.Context(), customerID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("billing portal session failed")
		response.Error(c, apperror.ErrDependencyTimeout(err))
		return
	}

	response.OK(c, dto.BillingPortalResponse{URL: url})
}
