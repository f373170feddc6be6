package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

func orderNotFound(orderNumber string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", orderNumber)).
		WithCode(apperrors.CodeOrderNotFound).
		WithContext("order_number", orderNumber)
}

func paymentNotFound(reference string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("payment %s not found", reference)).
		WithCode(apperrors.CodePaymentNotFound).
		WithContext("reference", reference)
}

func alreadyFinalized(p *models.Payment) error {
	return apperrors.NewConflictError(fmt.Sprintf("payment %s is already %s", p.Reference, p.Status)).
		WithCode(apperrors.CodeAlreadyFinalized).
		WithContext("reference", p.Reference).
		WithContext("status", string(p.Status))
}

func invalidState(format string, args ...interface{}) error {
	return apperrors.NewConflictError(fmt.Sprintf(format, args...)).WithCode(apperrors.CodeInvalidState)
}

func invalidInput(format string, args ...interface{}) error {
	return apperrors.NewInvalidInputError(fmt.Sprintf(format, args...))
}

// withCurrent attaches p as the unchanged state to a validation or conflict error
func withCurrent(err error, p *models.Payment) error {
	var appErr *apperrors.AppError
	if p == nil || !errors.As(err, &appErr) {
		return err
	}
	if appErr.Kind != apperrors.KindValidation && appErr.Kind != apperrors.KindConflict {
		return err
	}
	if _, ok := appErr.Context[apperrors.ContextCurrent]; !ok {
		appErr.WithContext(apperrors.ContextCurrent, p)
	}
	return err
}

// internalErr wraps an unexpected failure, keeping the cause for errors.Is
func internalErr(message string, cause error) *apperrors.AppError {
	return apperrors.NewAppError(fmt.Errorf("%w: %w", apperrors.ErrInternal, cause), message, http.StatusInternalServerError, false)
}

// passThrough leaves AppErrors alone and turns anything else into an Internal one
func passThrough(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return internalErr(message, err)
}

// lookupErr maps repository.ErrNotFound through notFound
func lookupErr(err error, notFound func() error, message string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound()
	}
	return passThrough(message, err)
}
