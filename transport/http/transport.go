package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"
	"github.com/google/uuid"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware carries the caller's request id, or a fresh one, in
// the request context.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), ragblade.RequestID, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, id)

		c.Next()
	}
}

// StatusCode maps a service error to the response status. Transient store
// failures are worth retrying by the client.
func StatusCode(err error) int {
	switch {
	case vector.IsTransient(err):
		return http.StatusServiceUnavailable

	case errors.Is(err, ragblade.ErrUnknownDomain),
		errors.Is(err, ragblade.ErrDomainMismatch),
		errors.Is(err, ragblade.ErrEmptyQuery),
		errors.Is(err, ragblade.ErrInvalidDocument),
		errors.Is(err, vector.ErrMalformedQuery),
		errors.Is(err, vector.ErrUnsupportedFilter):
		return http.StatusBadRequest

	case errors.Is(err, vector.ErrCollectionNotFound):
		return http.StatusNotFound

	case errors.Is(err, vector.ErrSchemaMismatch):
		return http.StatusConflict

	default:
		return http.StatusExpectationFailed
	}
}

func fail(c *gin.Context, status int, err error) {
	c.String(status, err.Error())
	c.Error(err)
	c.Abort()
}

func domainRef(c *gin.Context) (vector.CollectionRef, error) {
	domain, err := ragblade.ParseDomain(c.Param("domain"))
	if err != nil {
		return vector.CollectionRef{}, err
	}

	return vector.CollectionRef{
		Name:   c.Query("name"),
		Domain: string(domain),
	}, nil
}

func IngestHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			report, ok := resp.(ragblade.IngestReport)
			if ok && report.Chunks > 0 {
				c.JSON(StatusCode(err), &report)
				c.Error(err)
				c.Abort()
				return
			}

			fail(c, StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func RetrieveHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.RetrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			fail(c, StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

// EnsureCollectionHandler ensures the collection of a domain, or recreates
// it empty with ?recreate=true.
func EnsureCollectionHandler(ensure endpoint.Endpoint, recreate endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := domainRef(c)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}

		e := ensure
		if c.Query("recreate") == "true" {
			e = recreate
		}

		ctx := c.Request.Context()
		resp, err := e(ctx, ragblade.CollectionRequest(ref))
		if err != nil {
			fail(c, StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func DropCollectionHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := domainRef(c)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		_, err = endpoint(ctx, ragblade.CollectionRequest(ref))
		if err != nil {
			fail(c, StatusCode(err), err)
			return
		}

		c.String(http.StatusOK, "OK")
	}
}

func ListCollectionsHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			fail(c, StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}
