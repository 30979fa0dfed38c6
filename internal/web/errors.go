// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/pkg/errutil"
)

// internalMessage is the only message clients see for unclassified failures.
const internalMessage = "internal server error"

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindInvalidCode:
		return http.StatusBadRequest
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindAuth:
		return http.StatusUnauthorized
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err, logs it and writes the JSON error body.
// Internal failures never expose their message.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := auth.KindOf(err)
	status := StatusFor(kind)
	ctx := c.Request.Context()

	message := internalMessage
	switch kind {
	case auth.KindInternal:
		errutil.LogError(ctx, h.logger, "request failed", err, "route", c.FullPath())
	case auth.KindDelivery:
		message = oops.GetPublic(err, http.StatusText(status))
		errutil.LogError(ctx, h.logger, "email delivery failed", err, "route", c.FullPath())
	default:
		message = oops.GetPublic(err, http.StatusText(status))
		h.logger.DebugContext(ctx, "request rejected",
			"route", c.FullPath(),
			"kind", kind.String(),
			"error_code", errutil.Code(err))
	}

	c.AbortWithStatusJSON(status, errorResponse{Message: message, Kind: kind.String()})
}
