package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps carries everything the HTTP layer needs. Revocations and
// QueueStats may be nil; the routes that need them then answer 501/503.
type RouterDeps struct {
	Config      Config
	Gate        *Gate
	Auth        AuthService
	Revocations RevocationList
	Accounts    *AccountService
	Leaves      *LeaveService
	Faces       *FaceDetectService
	QueueStats  *MetricsService
	Registry    *prometheus.Registry
	// Ready is called by /healthz when set.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(CORSMiddleware(d.Config))
	r.Use(BodyLimitMiddleware(d.Config.MaxUploadBytes))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(c.Request.Context()); err != nil {
				respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "store not reachable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	gate := d.Gate
	api := r.Group("/api")

	api.POST("/token", func(c *gin.Context) {
		token, _, err := d.Auth.Login(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
	})

	api.DELETE("/token", gate.CurrentUser(), func(c *gin.Context) {
		if d.Revocations == nil {
			respondError(c, http.StatusNotImplemented, "NOT_IMPLEMENTED", "token revocation is not enabled")
			return
		}
		claims := currentClaims(c)
		if claims == nil || claims.ExpiresAt == nil || claims.ID == "" {
			respondServiceError(c, ErrUnauthorized)
			return
		}
		if err := d.Revocations.Revoke(c.Request.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			respondServiceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	user := api.Group("/user")
	{
		user.GET("", gate.ActiveUser(), func(c *gin.Context) {
			c.JSON(http.StatusOK, CurrentAccount(c))
		})

		user.PUT("/password", gate.ActiveUser(), func(c *gin.Context) {
			a := CurrentAccount(c)
			if err := d.Accounts.ChangePassword(c.Request.Context(), a, c.PostForm("old_password"), c.PostForm("new_password")); err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		user.GET("/faceImg", gate.ActiveUser(), func(c *gin.Context) {
			data, err := d.Accounts.FaceImage(c.Request.Context(), CurrentAccount(c).UserID)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.Data(http.StatusOK, "image/jpeg", data)
		})

		user.POST("", gate.AdminUser(), func(c *gin.Context) {
			data, contentType, err := readUpload(c, "faceIMG", true)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			a, err := d.Accounts.Create(c.Request.Context(), CreateAccountInput{
				Username:        c.PostForm("username"),
				Password:        c.PostForm("password"),
				Role:            c.DefaultPostForm("role", string(RoleUser)),
				FaceImage:       data,
				FaceContentType: contentType,
			})
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusCreated, a)
		})

		user.GET("/all", gate.AdminUser(), func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			items, total, err := d.Accounts.List(c.Request.Context(), page, perPage)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		user.PUT("/:userID", gate.AdminUser(), func(c *gin.Context) {
			var in UpdateAccountInput
			if v, ok := c.GetPostForm("username"); ok && v != "" {
				in.Username = &v
			}
			if v, ok := c.GetPostForm("role"); ok && v != "" {
				in.Role = &v
			}
			if v, ok := c.GetPostForm("disabled"); ok && v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					respondServiceError(c, fmt.Errorf("%w: disabled must be a boolean", ErrInvalidInput))
					return
				}
				in.Disabled = &b
			}
			data, contentType, err := readUpload(c, "faceIMG", false)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			in.FaceImage, in.FaceContentType = data, contentType

			a, err := d.Accounts.Update(c.Request.Context(), c.Param("userID"), in)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		user.PUT("/:userID/password", gate.AdminUser(), func(c *gin.Context) {
			a, err := d.Accounts.ChangePasswordByUserID(c.Request.Context(), c.Param("userID"),
				c.PostForm("old_password"), c.PostForm("new_password"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		user.DELETE("/:userID", gate.AdminUser(), func(c *gin.Context) {
			a, err := d.Accounts.Delete(c.Request.Context(), c.Param("userID"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		user.GET("/faceImg/:userID", gate.AdminUser(), func(c *gin.Context) {
			data, err := d.Accounts.FaceImage(c.Request.Context(), c.Param("userID"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.Data(http.StatusOK, "image/jpeg", data)
		})
	}

	api.POST("/face/detect", func(c *gin.Context) {
		data, contentType, err := readUpload(c, "file", true)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		res, err := d.Faces.Detect(c.Request.Context(), data, contentType)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	leave := api.Group("/app/leave")
	{
		leave.POST("", gate.CurrentUser(), func(c *gin.Context) {
			var req LeaveRequest
			if err := c.ShouldBind(&req); err != nil {
				respondServiceError(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
				return
			}
			l, err := d.Leaves.Apply(c.Request.Context(), CurrentAccount(c), req)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusCreated, l)
		})

		leave.GET("", gate.CurrentUser(), func(c *gin.Context) {
			items, err := d.Leaves.ListOwn(c.Request.Context(), CurrentAccount(c))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, items)
		})

		leave.GET("/all", gate.AdminUser(), func(c *gin.Context) {
			items, err := d.Leaves.ListAll(c.Request.Context())
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, items)
		})

		leave.PUT("", gate.AdminUser(), func(c *gin.Context) {
			var req LeaveReply
			if err := c.ShouldBind(&req); err != nil {
				respondServiceError(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
				return
			}
			l, err := d.Leaves.Reply(c.Request.Context(), CurrentAccount(c), req)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, l)
		})
	}

	metrics := api.Group("/admin/metrics", gate.AdminUser(), func(c *gin.Context) {
		if d.QueueStats == nil {
			respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "face sync queue is not configured")
			c.Abort()
			return
		}
		c.Next()
	})
	{
		metrics.GET("/overview", func(c *gin.Context) {
			queueMetrics, workers, err := d.QueueStats.Overview(c.Request.Context())
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"queues":  queueMetrics,
				"workers": workers,
			})
		})

		metrics.GET("/queues", func(c *gin.Context) {
			queueMetrics, err := d.QueueStats.Queue(c.Request.Context())
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, queueMetrics)
		})

		metrics.GET("/workers", func(c *gin.Context) {
			workers, err := d.QueueStats.Workers(c.Request.Context())
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"workers": workers})
		})

		metrics.GET("/workers/:id", func(c *gin.Context) {
			hb, err := d.QueueStats.WorkerByID(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, hb)
		})
	}

	return r
}

// readUpload reads a multipart file field. A missing optional field yields nil data.
func readUpload(c *gin.Context, field string, required bool) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, "", fmt.Errorf("%w: upload exceeds %d bytes", ErrInvalidInput, tooLarge.Limit)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			if required {
				return nil, "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
			}
			return nil, "", nil
		default:
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", ErrInvalidInput, field, err)
	}
	return data, fh.Header.Get("Content-Type"), nil
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("%w: page must be a positive integer", ErrInvalidInput)
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("%w: per_page must be a positive integer", ErrInvalidInput)
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	if _, err := pageOffset(page, perPage); err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
