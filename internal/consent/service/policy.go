package service

import (
	"context"
	"slices"

	"consent-manager/internal/consent/models"
)

// DenyAllPolicy never auto-approves. It is the default.
type DenyAllPolicy struct{}

func (DenyAllPolicy) Allows(context.Context, *models.ConsentRequest) bool { return false }

// AllowlistPolicy auto-approves requests from listed HIUs for listed purposes.
// Both lists must match; an empty list matches nothing.
type AllowlistPolicy struct {
	HIUs     []string
	Purposes []string
}

func (p AllowlistPolicy) Allows(_ context.Context, req *models.ConsentRequest) bool {
	if req == nil || req.HIP == nil {
		return false
	}
	return slices.Contains(p.HIUs, req.HIU.ID) && slices.Contains(p.Purposes, req.Purpose.Code)
}
