package web

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"drivelog/db/db"
)

func CorsConfig() cors.Config {
	corsConf := cors.DefaultConfig()
	corsConf.AllowAllOrigins = true
	corsConf.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConf.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConf.AllowCredentials = true
	corsConf.MaxAge = 1 * 3600 // 1 hours
	return corsConf
}

// limiterMiddleWare caps each client address. Chat transports batch users
// behind one address, hence the generous limit.
func limiterMiddleWare() gin.HandlerFunc {
	rate := limiter.Rate{
		Period: 1 * time.Hour,
		Limit:  5000,
	}
	store := memory.NewStore()
	instance := limiter.New(store, rate)
	return mgin.NewMiddleware(instance)
}

// ProjectDataLoaderInjectionMiddleware gives every request its own project
// loader so report rendering batches project lookups.
func ProjectDataLoaderInjectionMiddleware(wrapper db.JournalDBWrapper) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := db.NewProjectDataLoader(wrapper)
		ctx := context.WithValue(c.Request.Context(), db.DataLoaderKeyProjects, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func setupMiddlewares(r *gin.Engine, cfg ServiceConfig, wrapper db.JournalDBWrapper) {
	r.Use(limiterMiddleWare())
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(cors.New(CorsConfig()))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(secure.New(secure.Config{
		IsDevelopment:        cfg.IsDev,
		STSSeconds:           31536000, // 1 year
		STSIncludeSubdomains: true,
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		BrowserXssFilter:     true,
		ReferrerPolicy:       "strict-origin-when-cross-origin",
	}))
	r.Use(ProjectDataLoaderInjectionMiddleware(wrapper))
}
