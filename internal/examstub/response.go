package examstub

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evalhub/examsession/internal/examapi"
)

// payload is the standardized response envelope.
type payload struct {
	Data     interface{} `json:"data"`
	Error    *errorBody  `json:"error,omitempty"`
	Metadata metadata    `json:"metadata"`
}

type errorBody struct {
	Code    examapi.ErrCode   `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

const requestIDKey = "request_id"

// requestID assigns every request a traceable id exposed on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func buildMetadata(c *gin.Context) metadata {
	return metadata{
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, payload{Data: data, Metadata: buildMetadata(c)})
}

func fail(c *gin.Context, statusCode int, code examapi.ErrCode) {
	c.JSON(statusCode, payload{
		Error:    &errorBody{Code: code, Message: messageFor(code)},
		Metadata: buildMetadata(c),
	})
}

func failWithFields(c *gin.Context, statusCode int, code examapi.ErrCode, fields map[string]string) {
	c.JSON(statusCode, payload{
		Error:    &errorBody{Code: code, Message: messageFor(code), Fields: fields},
		Metadata: buildMetadata(c),
	})
}

func abortFail(c *gin.Context, statusCode int, code examapi.ErrCode) {
	c.AbortWithStatusJSON(statusCode, payload{
		Error:    &errorBody{Code: code, Message: messageFor(code)},
		Metadata: buildMetadata(c),
	})
}

// messageFor returns the human-readable message for an error code.
func messageFor(code examapi.ErrCode) string {
	switch code {
	case examapi.ErrTokenRequired:
		return "An authentication token is required."
	case examapi.ErrTokenInvalid:
		return "The authentication token is invalid."
	case examapi.ErrForbidden:
		return "You do not have permission to access this resource."
	case examapi.ErrValidation:
		return "Validation failed. Please check your input."
	case examapi.ErrInvalidID:
		return "The identifier format is invalid."
	case examapi.ErrNotFound:
		return "The resource was not found."
	case examapi.ErrExamNotOpen:
		return "This exam has not opened yet."
	case examapi.ErrExamClosed:
		return "This exam window has closed."
	case examapi.ErrNoQuestions:
		return "This exam has no questions."
	case examapi.ErrAlreadyDone:
		return "This attempt has already been completed."
	default:
		return "An internal error occurred. Please try again later."
	}
}
