package ratelimit

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// returns a per-client-IP rate limiting middleware. The format string
// follows the "<count>-<period>" convention, e.g. "60-M" for sixty
// requests per minute. State is kept in process memory; each replica
// enforces its own quota.
func Middleware(format string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(format)
	if err != nil {
		return nil, err
	}

	return mgin.NewMiddleware(limiter.New(memory.NewStore(), rate)), nil
}
