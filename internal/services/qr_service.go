package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues short-lived pay-by-QR codes for invoices. A code carries
// the invoice id and the amount currently due; scanning it feeds the
// payment allocation endpoints. Codes are one-shot and expire from Redis.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateInvoicePayCode returns the opaque code and a base64 PNG of its
// QR rendering for the invoice's current amount due.
func (s *QRService) GenerateInvoicePayCode(ctx context.Context, invoiceID int64) (string, string, error) {
	var amountDue string
	err := s.db.QueryRow(`
		SELECT (i.total_amount - COALESCE((SELECT SUM(ip.amount) FROM invoice_payments ip
		                                   WHERE ip.invoice_id = i.id), 0))::text
		FROM invoices i
		WHERE i.id = $1`, invoiceID).Scan(&amountDue)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", &NotFoundError{Entity: "invoice", ID: invoiceID}
		}
		return "", "", err
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", "", err
	}

	payData := map[string]any{
		"invoiceId": invoiceID,
		"amountDue": amountDue,
		"timestamp": time.Now().Unix(),
		"nonce":     nonce,
	}

	jsonData, err := json.Marshal(payData)
	if err != nil {
		return "", "", err
	}

	payCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("invoice_qr:%s", payCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(payCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return payCode, qrImage, nil
}

// ProcessPayCode consumes a scanned code and returns its invoice payload.
func (s *QRService) ProcessPayCode(ctx context.Context, payCode string) (map[string]any, error) {
	key := fmt.Sprintf("invoice_qr:%s", payCode)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, notAllowedf("invalid or expired pay code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
