package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: capability, permission, network, storage, validation, push
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeCapabilityUnavailable = "CAPABILITY_UNAVAILABLE"
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeInstallFailed         = "INSTALL_FAILED"
	ErrCodeUpstreamUnreachable   = "UPSTREAM_UNREACHABLE"
	ErrCodeStorageFailed         = "STORAGE_FAILED"
	ErrCodeSubscriptionSync      = "SUBSCRIPTION_SYNC_FAILED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeStoryNotFound         = "STORY_NOT_FOUND"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
)

// NewCapabilityUnavailableError はプラットフォーム機能が利用できない場合のエラーを生成する。
// 初期化時に1回だけ検出され、リトライされない。
func NewCapabilityUnavailableError(capability string) *APIError {
	return &APIError{
		Code:     ErrCodeCapabilityUnavailable,
		Message:  fmt.Sprintf("この環境では %s がサポートされていません。", capability),
		Category: "capability",
		Action:   "この機能は無効化されています。対応環境で再度お試しください。",
	}
}

// NewPermissionDeniedError は通知権限が拒否された場合のエラーを生成する。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "通知の権限が拒否されています。",
		Category: "permission",
		Action:   "ブラウザの設定から通知を許可してから、再度お試しください。",
	}
}

// NewInstallFailedError はプリキャッシュのインストール失敗エラーを生成する。
// マニフェスト内のいずれか1つでも取得に失敗した場合、世代全体が破棄される。
func NewInstallFailedError(url string, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInstallFailed,
		Message:  fmt.Sprintf("アセットのプリキャッシュに失敗しました: %s (%s)", url, reason),
		Category: "network",
		Action:   "ネットワーク接続を確認し、インストールを再実行してください。",
	}
}

// NewUpstreamUnreachableError はアップストリーム到達不能エラーを生成する。
// キャッシュフォールバックも存在しない場合にのみ呼び出し元へ伝播する。
func NewUpstreamUnreachableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnreachable,
		Message:  fmt.Sprintf("サーバーに接続できません: %s", reason),
		Category: "network",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewStorageFailedError は耐久ストアの操作失敗エラーを生成する。
// 保存の失敗は成功として報告してはならない。
func NewStorageFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  fmt.Sprintf("ローカルストレージの操作に失敗しました: %s", reason),
		Category: "storage",
		Action:   "ストレージの空き容量と権限を確認してください。",
	}
}

// NewSubscriptionSyncError はリモート購読レコードとの同期失敗エラーを生成する。
func NewSubscriptionSyncError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionSync,
		Message:  fmt.Sprintf("通知サーバーとの購読同期に失敗しました: %s", reason),
		Category: "push",
		Action:   "ネットワーク接続を確認し、再度購読操作を行ってください。",
	}
}

// NewUnauthorizedError は認証トークン未設定のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証トークンが見つかりません。",
		Category: "validation",
		Action:   "再度ログインしてください。",
	}
}

// NewStoryNotFoundError はストーリー未検出エラーを生成する。
func NewStoryNotFoundError(storyID string) *APIError {
	return &APIError{
		Code:     ErrCodeStoryNotFound,
		Message:  fmt.Sprintf("指定されたストーリーが見つかりません: %s", storyID),
		Category: "validation",
		Action:   "ストーリーIDを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを指定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}
