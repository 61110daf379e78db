package intake

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/invoice_recon/calendar"
	"bitbucket.org/mmdatafocus/invoice_recon/config"
	"bitbucket.org/mmdatafocus/invoice_recon/dedup"
	"bitbucket.org/mmdatafocus/invoice_recon/middlewares"
	"bitbucket.org/mmdatafocus/invoice_recon/utils"
	"bitbucket.org/mmdatafocus/invoice_recon/validation"
	"bitbucket.org/mmdatafocus/invoice_recon/workflow"
)

func resolveWorkspaceID(c *gin.Context) (string, error) {
	workspaceId, ok := utils.GetWorkspaceIdFromContext(c.Request.Context())
	if !ok || workspaceId == "" {
		return "", errors.New("missing " + middlewares.WorkspaceHeader)
	}
	return workspaceId, nil
}

func reviewerName(c *gin.Context) string {
	if name, ok := utils.GetUserNameFromContext(c.Request.Context()); ok && name != "" {
		return name
	}
	return "unknown"
}

func writeWorkflowError(c *gin.Context, err error) {
	var gateErr *validation.GateError
	switch {
	case errors.Is(err, workflow.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &gateErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "blocking_flags": gateErr.Reasons})
	case errors.Is(err, workflow.ErrMergePending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetInvoiceHandler returns an invoice with its pages, flags and notes.
func GetInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId, err := resolveWorkspaceID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := c.Request.Context()

		inv, err := workflow.GetInvoice(ctx, config.GetDB(), workspaceId, c.Param("id"))
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		resp := InvoiceResponse{Invoice: inv}
		if inv.Flags != nil {
			if f, err := inv.Flags.Validation(); err == nil {
				resp.Flags = &f
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ResubmitHandler applies reviewer corrections and re-validates.
func ResubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId, err := resolveWorkspaceID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req ResubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := c.Request.Context()

		out, err := workflow.ResubmitCorrections(ctx, config.GetDB(), config.GetLogger(), workspaceId, c.Param("id"),
			req.Corrections, reviewerName(c), config.ValidationPolicy())
		if err != nil {
			if dedup.IsRetryable(err) && out != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "result": out.Result})
				return
			}
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// ApproveHandler approves an invoice when the gate allows it.
func ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId, err := resolveWorkspaceID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := c.Request.Context()

		inv, err := workflow.ApproveInvoice(ctx, config.GetDB(), config.GetLogger(), workspaceId, c.Param("id"),
			reviewerName(c), config.ValidationPolicy())
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": inv})
	}
}

// ExportReviewQueueHandler streams the unapproved invoices as XLSX.
func ExportReviewQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId, err := resolveWorkspaceID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := c.Request.Context()
		limit, _ := strconv.Atoi(c.Query("limit"))

		invoices, err := workflow.ReviewQueue(ctx, config.GetDB(), workspaceId, limit)
		if err != nil {
			config.LogError(config.GetLogger(), "intake/handlers.go", "ExportReviewQueueHandler", "ReviewQueue", workspaceId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		f, err := BuildReviewWorkbook(invoices)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=review-queue.xlsx")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "intake/handlers.go", "ExportReviewQueueHandler", "write xlsx", workspaceId, err)
		}
	}
}

// ConvertDateHandler converts a date between BS and AD.
func ConvertDateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConvertDateRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		nd := calendar.NormalizeDate(&req.Date, req.Calendar)
		if nd == nil || !nd.ConversionValid {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "date cannot be converted", "date": req.Date})
			return
		}
		resp := ConvertDateResponse{
			BsDate:           nd.BsDate,
			AdDate:           nd.AdDate,
			CalendarDetected: string(nd.CalendarDetected),
		}
		if bs, ok := nd.Bs(); ok {
			resp.FiscalYear = calendar.FiscalYear(bs)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// RegisterRoutes mounts the push endpoint and the review API.
func RegisterRoutes(r gin.IRouter) {
	r.POST("/pubsub/extraction", PubSubPushHandler())

	api := r.Group("/api/v1", middlewares.WorkspaceMiddleware())
	api.GET("/review-queue/export", ExportReviewQueueHandler())
	api.GET("/invoices/:id", GetInvoiceHandler())
	api.POST("/invoices/:id/resubmit", ResubmitHandler())
	api.POST("/invoices/:id/approve", ApproveHandler())
	api.GET("/calendar/convert", ConvertDateHandler())
}
