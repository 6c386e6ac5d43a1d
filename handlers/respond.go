package handlers

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// All endpoints share one error envelope: {"success": false, "message": ...}
// with the status code carried by the error type. Unknown errors are 500 and
// deliberately unspecific.
func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case utils.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "record not found"})
	case utils.IsConflictError(err):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
	}
}

func respondBindError(c *gin.Context, err error) {
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "validation failed",
			"fields":  utils.ProcessValidationErrors(fieldErrors),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid " + name})
		return 0, false
	}
	return id, true
}
