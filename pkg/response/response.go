package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeUnavailable   = 503
	CodeBusinessError = 1000
)

// 业务错误码
const (
	CodeInsufficientBalance = 1001
	CodeInvalidInput        = 1002
	CodeDuplicateRequest    = 1003
	CodeRateUnavailable     = 1004
	CodePlanNotFound        = 1005
	CodePlanNotDue          = 1006
	CodePlanTerminal        = 1007
	CodeRecipientNotFound   = 1008
	CodeReconcileConflict   = 1009
	CodeVerificationFailed  = 1010
	CodeVerificationTimeout = 1011
	CodeProfileNotFound     = 1012
	CodeTransactionNotFound = 1013
	CodeDegraded            = 1100
	CodeStoreTimeout        = 1101
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted 服务降级时交易已在本地挂起，等待对账后入账
func Accepted(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    CodeDegraded,
		Message: message,
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 业务失败但仍需把处理结果带给调用方，如对账冲突的报告
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
