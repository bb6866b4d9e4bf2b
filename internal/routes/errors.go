package routes

import (
	"errors"
	"net/http"

	"rental-portal/internal/access"
	"rental-portal/internal/chat"
	"rental-portal/internal/identity"
	"rental-portal/internal/jwt"
	"rental-portal/internal/rentals"
	"rental-portal/internal/storage"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
	Internal   bool     // Whether this is an internal error (hide details from user)
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message
	StopCodes []string // Optional stop codes for client-side application
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
		Internal:   statusCode >= 500,
	}
}

var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrForbidden               = errors.New("forbidden")
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrEmailNotAllowed  = errors.New("email is not allowed")
	ErrMissingEmail     = errors.New("identity has no email")
	ErrUnknownBucket    = errors.New("unknown bucket")
	ErrPageNotFound     = errors.New("page not found")

	ErrInternalServer = errors.New("internal server error")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:        http.StatusBadRequest,
	ErrMissingParameter:      http.StatusBadRequest,
	ErrPasswordMismatch:      http.StatusBadRequest,
	access.ErrMissingEmail:   http.StatusBadRequest,
	access.ErrInvalidEmail:   http.StatusBadRequest,
	identity.ErrInvalidEmail: http.StatusBadRequest,
	identity.ErrWeakPassword: http.StatusBadRequest,
	rentals.ErrMissingID:     http.StatusBadRequest,
	rentals.ErrMissingName:   http.StatusBadRequest,
	rentals.ErrMissingDates:  http.StatusBadRequest,
	rentals.ErrInvalidDate:   http.StatusBadRequest,
	rentals.ErrDateOrder:     http.StatusBadRequest,
	rentals.ErrImageRequired: http.StatusBadRequest,
	chat.ErrMissingRoom:      http.StatusBadRequest,

	// 401 Unauthorized
	ErrUnauthorized:           http.StatusUnauthorized,
	jwt.ErrNonValidToken:      http.StatusUnauthorized,
	jwt.ErrInvalidNonce:       http.StatusUnauthorized,
	identity.ErrUserNotFound:  http.StatusUnauthorized,
	identity.ErrWrongPassword: http.StatusUnauthorized,
	chat.ErrNotSignedIn:       http.StatusUnauthorized,

	// 403 Forbidden
	ErrForbidden:               http.StatusForbidden,
	ErrInsufficientPermissions: http.StatusForbidden,
	ErrEmailNotAllowed:         http.StatusForbidden,
	ErrMissingEmail:            http.StatusForbidden,
	chat.ErrAccessDenied:       http.StatusForbidden,

	// 404 Not Found
	rentals.ErrRentalNotFound: http.StatusNotFound,
	storage.ErrNotFound:       http.StatusNotFound,
	ErrUnknownBucket:          http.StatusNotFound,
	ErrPageNotFound:           http.StatusNotFound,

	// 409 Conflict
	identity.ErrEmailExists: http.StatusConflict,
	storage.ErrConflict:     http.StatusConflict,

	// 429 Too Many Requests
	identity.ErrTooManyRequests: http.StatusTooManyRequests,

	// 503 Service Unavailable
	chat.ErrNotReady: http.StatusServiceUnavailable,

	// 500 Internal Server Error
	ErrInternalServer:  http.StatusInternalServerError,
	chat.ErrSendFailed: http.StatusInternalServerError,
}

// errorInfoMap maps errors to user-facing messages and optional stop codes
var errorInfoMap = map[error]ErrorInfo{
	ErrUnauthorized: {
		Message:   "ログインしてください",
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	jwt.ErrNonValidToken: {
		Message:   "ログインしてください",
		StopCodes: []string{"AUTH_INVALID_TOKEN"},
	},
	jwt.ErrInvalidNonce: {
		Message:   "ログインしてください",
		StopCodes: []string{"AUTH_INVALID_NONCE"},
	},
	ErrForbidden: {
		Message:   "権限がありません",
		StopCodes: []string{"FORBIDDEN"},
	},
	ErrInsufficientPermissions: {
		Message:   "権限がありません",
		StopCodes: []string{"INSUFFICIENT_PERMISSIONS"},
	},

	// Sign in and sign up
	ErrPasswordMismatch: {
		Message:   "パスワードが一致しません",
		StopCodes: []string{"PASSWORD_MISMATCH"},
	},
	ErrMissingEmail: {
		Message:   "メールアドレスを取得できませんでした。",
		StopCodes: []string{"AUTH_NO_EMAIL"},
	},
	access.ErrMissingEmail: {
		Message:   "メールアドレスを入力してください。",
		StopCodes: []string{"EMAIL_REQUIRED"},
	},
	access.ErrInvalidEmail: {
		Message:   "メールアドレスの形式が正しくありません。",
		StopCodes: []string{"AUTH_INVALID_EMAIL"},
	},
	identity.ErrInvalidEmail: {
		Message:   "メールアドレスの形式が正しくありません。",
		StopCodes: []string{"AUTH_INVALID_EMAIL"},
	},
	identity.ErrUserNotFound: {
		Message:   "このメールアドレスは登録されていません。",
		StopCodes: []string{"AUTH_USER_NOT_FOUND"},
	},
	identity.ErrWrongPassword: {
		Message:   "パスワードが違います。",
		StopCodes: []string{"AUTH_WRONG_PASSWORD"},
	},
	identity.ErrTooManyRequests: {
		Message:   "試行回数が多すぎます。しばらくしてから再試行してください。",
		StopCodes: []string{"AUTH_TOO_MANY_REQUESTS"},
	},
	identity.ErrEmailExists: {
		Message:   "このメールアドレスは既に登録されています。",
		StopCodes: []string{"AUTH_EMAIL_EXISTS"},
	},
	identity.ErrWeakPassword: {
		Message:   "パスワードが弱すぎます（6文字以上など）。",
		StopCodes: []string{"AUTH_WEAK_PASSWORD"},
	},

	// Rentals and requests
	rentals.ErrMissingID: {
		Message:   "商品が指定されていません",
		StopCodes: []string{"RENTAL_ID_REQUIRED"},
	},
	rentals.ErrRentalNotFound: {
		Message:   "この商品は登録されていません。",
		StopCodes: []string{"RENTAL_NOT_FOUND"},
	},
	rentals.ErrMissingName: {
		Message:   "名前を入力してください",
		StopCodes: []string{"NAME_REQUIRED"},
	},
	rentals.ErrMissingDates: {
		Message:   "利用開始日と終了日を選択してください",
		StopCodes: []string{"DATES_REQUIRED"},
	},
	rentals.ErrInvalidDate: {
		Message:   "日付の形式が正しくありません",
		StopCodes: []string{"INVALID_DATE"},
	},
	rentals.ErrDateOrder: {
		Message:   "終了日は開始日以降にしてください",
		StopCodes: []string{"DATE_ORDER"},
	},
	rentals.ErrImageRequired: {
		Message:   "画像を選択してください",
		StopCodes: []string{"IMAGE_REQUIRED"},
	},
	storage.ErrNotFound: {
		Message: "見つかりません",
	},
	storage.ErrConflict: {
		Message: "既に登録されています",
	},

	// Talk
	chat.ErrMissingRoom: {
		Message:   "roomId が不正です",
		StopCodes: []string{"ROOM_ID_REQUIRED"},
	},
	chat.ErrNotSignedIn: {
		Message:   chat.Alert(chat.ErrNotSignedIn),
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	chat.ErrAccessDenied: {
		Message:   chat.Alert(chat.ErrAccessDenied),
		StopCodes: []string{"ROOM_DENIED"},
	},
	chat.ErrNotReady: {
		Message: chat.Alert(chat.ErrNotReady),
	},
	chat.ErrSendFailed: {
		Message: chat.Alert(chat.ErrSendFailed),
	},

	ErrInvalidRequest: {
		Message:   "未入力の項目があります",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	ErrMissingParameter: {
		Message:   "未入力の項目があります",
		StopCodes: []string{"MISSING_PARAMETER"},
	},
	ErrInternalServer: {
		Message: "エラーが発生しました",
	},
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	if info, ok := errorInfoMap[err]; ok {
		return info
	}

	for knownErr, info := range errorInfoMap {
		if errors.Is(err, knownErr) {
			return info
		}
	}

	// Remote failures get the generic message; details stay in the log.
	status := GetErrorStatus(err)
	if status >= 500 {
		return errorInfoMap[ErrInternalServer]
	}
	return ErrorInfo{Message: err.Error()}
}

// GetErrorMessage returns a user-facing message for an error
func GetErrorMessage(err error) string {
	return GetErrorInfo(err).Message
}
