package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RemittanceService renders forwarded payments as ISO 20022 credit
// transfer messages for the bank side of a forward.
type RemittanceService struct{}

func NewRemittanceService() *RemittanceService {
	return &RemittanceService{}
}

// Remittance describes one forwarded payment to express as a pacs.008.
type Remittance struct {
	ForwardedPaymentID  int64
	RemittanceReference string
	DebtorName          string // accounting organization holding the funds
	CreditorName        string // destination bank account name
	Amount              decimal.Decimal
	TransferredAt       time.Time
}

// CreatePacs008 builds a single-transaction FIToFICustomerCreditTransfer
// for the forward.
func (s *RemittanceService) CreatePacs008(rem *Remittance) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if !rem.Amount.IsPositive() {
		return nil, validationf("remittance amount must be positive, got %s", rem.Amount)
	}

	msgID := uuid.New().String()
	currency := viper.GetString("remittance.currency")
	if currency == "" {
		currency = "AUD"
	}
	bic := viper.GetString("remittance.bic")
	if bic == "" {
		bic = "FRNCHPAY"
	}

	creDtTm := time.Now()
	settlementDate := rem.TransferredAt
	if settlementDate.IsZero() {
		settlementDate = creDtTm
	}
	amount := rem.Amount.InexactFloat64()
	txID := common.Max35Text(fmt.Sprintf("FWD-%d", rem.ForwardedPaymentID))

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{txID}[0],
					EndToEndId: common.Max35Text(rem.RemittanceReference),
					TxId:       &[]common.Max35Text{txID}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(rem.DebtorName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(bic)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(rem.CreditorName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds the status report acknowledging (or rejecting) a
// previously sent credit transfer. Status is an external code such as
// ACCP, ACSC or RJCT.
func (s *RemittanceService) CreatePacs002(rem *Remittance, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	if status == "" {
		return nil, validationf("status code is required")
	}

	txID := common.Max35Text(fmt.Sprintf("FWD-%d", rem.ForwardedPaymentID))
	endToEndID := common.Max35Text(rem.RemittanceReference)
	txStatus := pacs_v08.ExternalPaymentTransactionStatus1Code(status)

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &txID,
				OrgnlEndToEndId: &endToEndID,
				OrgnlTxId:       &txID,
				TxSts:           &txStatus,
			},
		},
	}

	return doc, nil
}

// Send serializes the message and hands it to the bank channel. The actual
// transport integration is still pending, so the message is logged.
func (s *RemittanceService) Send(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: deliver over the bank's file channel once credentials exist
	log.Printf("[REMITTANCE] Prepared credit transfer message:\n%s", string(xmlData))
	return nil
}

// ToXML returns the message as an XML document string.
func (s *RemittanceService) ToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
