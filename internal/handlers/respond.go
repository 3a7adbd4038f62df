package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/serviceerror"
)

// actor identity headers set by the authenticating gateway
const (
	HeaderActorID = "actor-id"
	HeaderGrantID = "grant-id"
)

// statusByCode maps service error codes to HTTP statuses. Anything not
// listed falls back on the error's client/server type.
var statusByCode = map[string]int{
	serviceerror.GrantNotFound.Code:            http.StatusNotFound,
	serviceerror.RecordNotFound.Code:           http.StatusNotFound,
	serviceerror.ResourceNotFound.Code:         http.StatusNotFound,
	serviceerror.GrantExpired.Code:             http.StatusForbidden,
	serviceerror.GrantRevoked.Code:             http.StatusForbidden,
	serviceerror.GrantInsufficientScope.Code:   http.StatusForbidden,
	serviceerror.GrantScopeMismatch.Code:       http.StatusForbidden,
	serviceerror.AuthorityDenied.Code:          http.StatusForbidden,
	serviceerror.NoActiveConsent.Code:          http.StatusForbidden,
	serviceerror.AttestationInvalid.Code:       http.StatusForbidden,
	serviceerror.RecordErased.Code:             http.StatusGone,
	serviceerror.ConcurrentModification.Code:   http.StatusConflict,
	serviceerror.InvalidTransition.Code:        http.StatusConflict,
	serviceerror.AppealWindowClosed.Code:       http.StatusConflict,
	serviceerror.DuplicateClaimSuppressed.Code: http.StatusConflict,
	serviceerror.AuthTagMismatch.Code:          http.StatusConflict,
}

// SendError writes a service error with its mapped HTTP status. Unknown
// error values are wrapped as internal errors without leaking details.
func SendError(c *gin.Context, err error) {
	var svcErr *serviceerror.ServiceError
	if !errors.As(err, &svcErr) {
		c.JSON(http.StatusInternalServerError, serviceerror.InternalServerError)
		return
	}

	status, ok := statusByCode[svcErr.Code]
	if !ok {
		if svcErr.Type == serviceerror.ClientErrorType {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
		}
	}

	c.JSON(status, svcErr)
}

// SendBadRequest writes a validation failure for malformed request bodies
func SendBadRequest(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, serviceerror.ValidationError.WithDescription("%s", details))
}

// ActorID returns the authenticated caller identity set by the gateway
func ActorID(c *gin.Context) string {
	return c.GetHeader(HeaderActorID)
}
