// Package notify は同意イベントの加盟店向けWebhook通知を提供する。
// 通知はベストエフォートであり、失敗しても呼び出し元の操作は成功する。
// 通知先URLは管理者が登録する外部入力のため、SSRFガード付きクライアントで送信する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/security"
)

// revokedEvent は同意取り消し通知のペイロード。
// アカウントの実識別子は含めず、仮名のみを渡す。
type revokedEvent struct {
	Event      string    `json:"event"`
	ShopID     string    `json:"shop_id"`
	MallID     string    `json:"mall_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WebhookNotifier は加盟店の登録済みエンドポイントへ同意イベントを通知する。
type WebhookNotifier struct {
	client *http.Client
	guard  security.SSRFGuardService
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(guard security.SSRFGuardService, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: guard.NewSafeClient(timeout),
		guard:  guard,
	}
}

// NotifyRevoked は同意取り消しを加盟店に通知する。
// 失敗はログに記録するのみで、エラーは返さない。
func (n *WebhookNotifier) NotifyRevoked(ctx context.Context, mall *model.Mall, delegateUID string) {
	if err := n.guard.ValidateURL(mall.NotifyURL); err != nil {
		slog.Warn("通知先URLの検証に失敗しました",
			slog.String("mall_id", mall.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, err := json.Marshal(revokedEvent{
		Event:      "consent.revoked",
		ShopID:     delegateUID,
		MallID:     mall.ID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		slog.Warn("通知ペイロードの生成に失敗しました",
			slog.String("mall_id", mall.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mall.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("通知リクエストの生成に失敗しました",
			slog.String("mall_id", mall.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("同意イベント通知の送信に失敗しました",
			slog.String("mall_id", mall.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("同意イベント通知が受理されませんでした",
			slog.String("mall_id", mall.ID),
			slog.Int("status", resp.StatusCode),
		)
		return
	}

	slog.Info("同意イベントを通知しました",
		slog.String("mall_id", mall.ID),
		slog.Int("status", resp.StatusCode),
	)
}
