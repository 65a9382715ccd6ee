package telegram

import (
	"context"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/graph"
)

// deviceLoginTimeout bounds the wait when the device code carries no expiry
const deviceLoginTimeout = 15 * time.Minute

// loginReplyTimeout bounds the result message sent after the wait
const loginReplyTimeout = 10 * time.Second

// handleLogin handles /login command
func (b *Bot) handleLogin(ctx context.Context, req *request) {
	l := b.texts(req)
	if b.login == nil {
		b.reply(ctx, req, l.T("LoginNotNeeded"))
		return
	}

	if b.login.Mode() != graph.ModeDeviceCode {
		if err := b.login.Login(ctx); err != nil {
			b.reply(ctx, req, l.T("LoginFailed", map[string]any{"Error": formatter.EscapeHTML(err.Error())}))
			return
		}
		b.resumePolling()
		b.reply(ctx, req, l.T("LoginDone"))
		return
	}

	resp, err := b.login.StartDeviceLogin(ctx)
	if err != nil {
		b.reply(ctx, req, l.T("LoginFailed", map[string]any{"Error": formatter.EscapeHTML(err.Error())}))
		return
	}

	uri := resp.VerificationURIComplete
	if uri == "" {
		uri = resp.VerificationURI
	}
	b.reply(ctx, req, l.T("LoginPrompt", map[string]any{
		"URL":  formatter.EscapeHTML(uri),
		"Code": formatter.EscapeHTML(resp.UserCode),
	}))

	timeout := deviceLoginTimeout
	if !resp.Expiry.IsZero() {
		timeout = time.Until(resp.Expiry)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		// ctx lives as long as the bot, so shutdown ends the wait
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		// the final reply still goes out after shutdown began
		replyCtx, replyCancel := context.WithTimeout(context.WithoutCancel(ctx), loginReplyTimeout)
		defer replyCancel()

		if err := b.login.CompleteDeviceLogin(waitCtx, resp); err != nil {
			b.logger.Warn("device login failed", "error", err)
			b.reply(replyCtx, req, l.T("LoginFailed", map[string]any{"Error": formatter.EscapeHTML(err.Error())}))
			return
		}
		b.logger.Info("device login completed")
		b.resumePolling()
		b.reply(replyCtx, req, l.T("LoginDone"))
	}()
}

func (b *Bot) resumePolling() {
	if b.poller != nil {
		b.poller.Resume()
	}
}
