package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	// chunk bodies and media streams are already high-entropy bytes,
	// compressing them burns CPU for nothing
	excludedPaths = []string{
		"/healthz",
		"/uploads",
	}
	excludedExtensions = []string{
		".mp4", ".mkv", ".webm", ".mov", ".avi",
		".mp3", ".flac", ".aac", ".ogg",
		".png", ".gif", ".jpeg", ".jpg", ".webp", ".ico",
		".zip", ".tar", ".gz", ".bz2", ".rar", ".7z",
	}
)

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}
