package services

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRemittanceService_CreatePacs008(t *testing.T) {
	service := NewRemittanceService()

	t.Run("single credit transfer transaction", func(t *testing.T) {
		doc, err := service.CreatePacs008(&Remittance{
			ForwardedPaymentID:  9,
			RemittanceReference: "RMT-2024-001",
			DebtorName:          "Acme Franchising",
			CreditorName:        "Main Operating",
			Amount:              decimal.RequireFromString("450.25"),
			TransferredAt:       time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, string(doc.GrpHdr.MsgId))
		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.InDelta(t, 450.25, doc.GrpHdr.TtlIntrBkSttlmAmt.Value, 0.001)

		assert.Len(t, doc.CdtTrfTxInf, 1)
		txInf := doc.CdtTrfTxInf[0]
		assert.Equal(t, "RMT-2024-001", string(txInf.PmtId.EndToEndId))
		assert.Equal(t, "FWD-9", string(*txInf.PmtId.TxId))
		assert.InDelta(t, 450.25, txInf.IntrBkSttlmAmt.Value, 0.001)
		assert.Equal(t, "Acme Franchising", string(*txInf.Dbtr.Nm))
		assert.Equal(t, "Main Operating", string(*txInf.Cdtr.Nm))
	})

	t.Run("defaults to AUD", func(t *testing.T) {
		doc, err := service.CreatePacs008(&Remittance{
			ForwardedPaymentID:  10,
			RemittanceReference: "RMT-2024-002",
			DebtorName:          "Acme Franchising",
			CreditorName:        "Main Operating",
			Amount:              decimal.NewFromInt(100),
		})
		assert.NoError(t, err)
		assert.Equal(t, "AUD", string(doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy))
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		_, err := service.CreatePacs008(&Remittance{
			ForwardedPaymentID:  11,
			RemittanceReference: "RMT-2024-003",
			Amount:              decimal.Zero,
		})
		assert.Error(t, err)
		assert.IsType(t, &ValidationError{}, err)
	})
}

func TestRemittanceService_CreatePacs002(t *testing.T) {
	service := NewRemittanceService()

	t.Run("status report references the original transfer", func(t *testing.T) {
		doc, err := service.CreatePacs002(&Remittance{
			ForwardedPaymentID:  9,
			RemittanceReference: "RMT-2024-001",
		}, "ACCP")
		assert.NoError(t, err)
		assert.NotEmpty(t, string(doc.GrpHdr.MsgId))
		assert.Len(t, doc.TxInfAndSts, 1)
		assert.Equal(t, "FWD-9", string(*doc.TxInfAndSts[0].OrgnlTxId))
		assert.Equal(t, "RMT-2024-001", string(*doc.TxInfAndSts[0].OrgnlEndToEndId))
		assert.Equal(t, "ACCP", string(*doc.TxInfAndSts[0].TxSts))
	})

	t.Run("status code is required", func(t *testing.T) {
		_, err := service.CreatePacs002(&Remittance{ForwardedPaymentID: 9}, "")
		assert.Error(t, err)
		assert.IsType(t, &ValidationError{}, err)
	})
}

func TestRemittanceService_ToXML(t *testing.T) {
	service := NewRemittanceService()

	doc, err := service.CreatePacs008(&Remittance{
		ForwardedPaymentID:  9,
		RemittanceReference: "RMT-2024-001",
		DebtorName:          "Acme Franchising",
		CreditorName:        "Main Operating",
		Amount:              decimal.NewFromInt(60),
		TransferredAt:       time.Now(),
	})
	assert.NoError(t, err)

	xmlStr, err := service.ToXML(doc)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(xmlStr, "<?xml"))
	assert.Contains(t, xmlStr, "RMT-2024-001")
	assert.Contains(t, xmlStr, "FWD-9")
}
