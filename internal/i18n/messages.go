package i18n

const (
	CodeDatabaseUnavailable = "database_unavailable"
	CodeDatabaseLoading     = "database_loading"
	CodeNotFound            = "not_found"
	CodeBadRequest          = "bad_request"
	CodeInvalidStatement    = "invalid_statement"
	CodeRateLimited         = "rate_limited"
	CodeUnauthorized        = "unauthorized"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeInternal            = "internal_error"
)

var messages = map[string]map[string]string{
	Japanese: {
		CodeDatabaseUnavailable: "データベースの読み込みに失敗しました",
		CodeDatabaseLoading:     "データベースを読み込み中です。しばらくしてから再度お試しください",
		CodeNotFound:            "指定された建築物が見つかりません",
		CodeBadRequest:          "リクエストが正しくありません",
		CodeInvalidStatement:    "実行できるのは単一のSELECT文のみです",
		CodeRateLimited:         "リクエストが多すぎます。しばらくしてから再度お試しください",
		CodeUnauthorized:        "認証が必要です",
		CodeInvalidCredentials:  "パスワードが正しくありません",
		CodeInternal:            "内部エラーが発生しました",
	},
	English: {
		CodeDatabaseUnavailable: "Failed to load the database",
		CodeDatabaseLoading:     "The database is still loading. Please try again shortly",
		CodeNotFound:            "The requested entry was not found",
		CodeBadRequest:          "The request is invalid",
		CodeInvalidStatement:    "Only a single SELECT statement can be run",
		CodeRateLimited:         "Too many requests. Please try again shortly",
		CodeUnauthorized:        "Authentication required",
		CodeInvalidCredentials:  "Invalid password",
		CodeInternal:            "An internal error occurred",
	},
}

// Message returns the text for code in lang, falling back to Japanese and
// then to the code itself.
func Message(lang, code string) string {
	if m, ok := messages[lang][code]; ok {
		return m
	}
	if m, ok := messages[Japanese][code]; ok {
		return m
	}
	return code
}
