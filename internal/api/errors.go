package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"tourbook/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kinds for failures raised by the transport itself.
const (
	kindUnauthorized = "UnauthorizedError"
	kindForbidden    = "ForbiddenError"
	kindRateLimited  = "RateLimitError"
)

type errorDetail struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	RemainingSpots *int   `json:"remainingSpots,omitempty"`
	Debug          string `json:"debug,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// httpStatus maps a domain error to its response status.
func httpStatus(err error) int {
	switch {
	case domain.IsValidation(err), domain.IsCapacityExceeded(err), domain.IsNothingToSettle(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error, debug bool) errorResponse {
	kind := domain.Kind(err)
	detail := errorDetail{Kind: kind, Message: err.Error()}

	var capErr domain.CapacityExceededError
	if errors.As(err, &capErr) {
		remaining := capErr.Remaining
		detail.RemainingSpots = &remaining
	}

	if kind == domain.KindPersistence {
		detail.Message = "internal error"
		if domain.IsRetryable(err) {
			detail.Message = "temporarily unavailable, retry later"
		}
	}
	if debug {
		detail.Debug = fmt.Sprintf("%+v", err)
	}
	return errorResponse{Error: detail}
}

// abortWithError writes the error body and stops the handler chain.
func (s *HTTPServer) abortWithError(c *gin.Context, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(code, errorBody(err, s.debug))
}

func abortWithKind(c *gin.Context, code int, kind, message string) {
	c.AbortWithStatusJSON(code, errorResponse{Error: errorDetail{Kind: kind, Message: message}})
}

// bindError turns gin binding failures into validation errors naming the
// offending field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.ValidationError{Field: fe.Field(), Msg: validationMessage(fe), Err: err}
	}
	return domain.ValidationError{Msg: "invalid request body", Err: err}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// useJSONFieldNames makes validation errors report the wire field names.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
}

// grpcError maps a domain error to a gRPC status.
func grpcError(err error) error {
	var code codes.Code
	switch {
	case domain.IsValidation(err), domain.IsCapacityExceeded(err), domain.IsNothingToSettle(err):
		code = codes.InvalidArgument
	case domain.IsNotFound(err):
		code = codes.NotFound
	case domain.IsConflict(err):
		code = codes.Aborted
	case domain.IsRetryable(err):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
