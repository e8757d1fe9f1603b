package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/service"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"
	"github.com/segyhp/loan-servicing-engine/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	TenantHeader       = "X-Tenant-ID"
	BusinessDateHeader = "X-Business-Date"
)

// LoanService is the command surface the handler drives.
type LoanService interface {
	GetLoan(ctx context.Context, loanID int64) (*domain.Loan, error)
	SubmitLoan(ctx context.Context, p domain.SubmitLoanParams) (*service.CommandResult, error)
	Approve(ctx context.Context, loanID int64, cmd domain.ApproveCommand) (*service.CommandResult, error)
	UndoApproval(ctx context.Context, loanID int64) (*service.CommandResult, error)
	Reject(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)
	Withdraw(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)
	Disburse(ctx context.Context, loanID int64, cmd domain.DisburseCommand) (*service.CommandResult, error)
	UndoDisbursal(ctx context.Context, loanID int64) (*service.CommandResult, error)
	MakeRepayment(ctx context.Context, loanID int64, cmd domain.RepaymentCommand) (*service.CommandResult, error)
	WaiveInterest(ctx context.Context, loanID int64, cmd domain.WaiveInterestCommand) (*service.CommandResult, error)
	AdjustTransaction(ctx context.Context, loanID, transactionID int64, cmd domain.AdjustTransactionCommand) (*service.CommandResult, error)
	Refund(ctx context.Context, loanID int64, cmd domain.RefundCommand) (*service.CommandResult, error)
	AddCharge(ctx context.Context, loanID int64, cmd domain.AddChargeCommand) (*service.CommandResult, error)
	DeleteCharge(ctx context.Context, loanID, chargeID int64) (*service.CommandResult, error)
	WaiveCharge(ctx context.Context, loanID, chargeID int64, installmentNumber int) (*service.CommandResult, error)
	UndoWaiveCharge(ctx context.Context, loanID, chargeID int64, installmentNumber int) (*service.CommandResult, error)
	PayCharge(ctx context.Context, loanID int64, cmd domain.PayChargeCommand) (*service.CommandResult, error)
	WriteOff(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)
	UndoWriteOff(ctx context.Context, loanID int64) (*service.CommandResult, error)
	Close(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)
	CloseAsRescheduled(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)
	Transfer(ctx context.Context, loanID int64, action service.TransferAction, cmd domain.CloseCommand) (*service.CommandResult, error)
	ReprocessTransactions(ctx context.Context, loanID int64) (*service.CommandResult, error)
}

type LoanHandler struct {
	service   LoanService
	validator *validator.Validate
}

func NewLoanHandler(service LoanService) *LoanHandler {
	return &LoanHandler{
		service:   service,
		validator: newValidator(),
	}
}

// RegisterRoutes mounts the loan API under /api/v1.
func (h *LoanHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RequestContext)

	api.HandleFunc("/loans", h.Submit).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId:[0-9]+}", h.Get).Methods(http.MethodGet)

	loan := api.PathPrefix("/loans/{loanId:[0-9]+}").Subrouter()
	loan.HandleFunc("/approve", h.Approve).Methods(http.MethodPost)
	loan.HandleFunc("/undo-approval", h.UndoApproval).Methods(http.MethodPost)
	loan.HandleFunc("/reject", h.closeWith(h.service.Reject)).Methods(http.MethodPost)
	loan.HandleFunc("/withdraw", h.closeWith(h.service.Withdraw)).Methods(http.MethodPost)
	loan.HandleFunc("/disburse", h.Disburse).Methods(http.MethodPost)
	loan.HandleFunc("/undo-disbursal", h.undoWith(h.service.UndoDisbursal)).Methods(http.MethodPost)
	loan.HandleFunc("/repayments", h.Repayment).Methods(http.MethodPost)
	loan.HandleFunc("/waive-interest", h.WaiveInterest).Methods(http.MethodPost)
	loan.HandleFunc("/refund", h.Refund).Methods(http.MethodPost)
	loan.HandleFunc("/write-off", h.closeWith(h.service.WriteOff)).Methods(http.MethodPost)
	loan.HandleFunc("/undo-write-off", h.undoWith(h.service.UndoWriteOff)).Methods(http.MethodPost)
	loan.HandleFunc("/close", h.closeWith(h.service.Close)).Methods(http.MethodPost)
	loan.HandleFunc("/close-as-rescheduled", h.closeWith(h.service.CloseAsRescheduled)).Methods(http.MethodPost)
	loan.HandleFunc("/reprocess", h.undoWith(h.service.ReprocessTransactions)).Methods(http.MethodPost)
	loan.HandleFunc("/transfers/{action:initiate|accept|withdraw|reject}", h.Transfer).Methods(http.MethodPost)
	loan.HandleFunc("/transactions/{txId:[0-9]+}/adjust", h.AdjustTransaction).Methods(http.MethodPost)
	loan.HandleFunc("/charges", h.AddCharge).Methods(http.MethodPost)
	loan.HandleFunc("/charges/{chargeId:[0-9]+}", h.DeleteCharge).Methods(http.MethodDelete)
	loan.HandleFunc("/charges/{chargeId:[0-9]+}/waive", h.chargeWaiver(h.service.WaiveCharge)).Methods(http.MethodPost)
	loan.HandleFunc("/charges/{chargeId:[0-9]+}/undo-waive", h.chargeWaiver(h.service.UndoWaiveCharge)).Methods(http.MethodPost)
	loan.HandleFunc("/charges/{chargeId:[0-9]+}/pay", h.PayCharge).Methods(http.MethodPost)
}

// RequestContext carries the tenant and business date headers into the
// request context.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tenant := r.Header.Get(TenantHeader); tenant != "" {
			ctx = service.WithTenant(ctx, tenant)
		}
		if raw := r.Header.Get(BusinessDateHeader); raw != "" {
			date, err := time.Parse(dateLayout, raw)
			if err != nil {
				response.FromError(w, customError.WrapValidation(BusinessDateHeader, "must be YYYY-MM-DD"))
				return
			}
			ctx = service.WithBusinessDate(ctx, date)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *LoanHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitLoanRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.service.SubmitLoan(r.Context(), req.toParams())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, newCommandResponse(result))
}

func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, newLoanResponse(loan))
}

func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	cmd := domain.ApproveCommand{
		ApprovedOn:               parseDate(req.ApprovedOn),
		ExpectedDisbursementDate: parseOptionalDate(req.ExpectedDisbursementDate),
	}
	if req.Amount != nil {
		amount, err := h.amount(r.Context(), loanID, *req.Amount)
		if err != nil {
			response.FromError(w, err)
			return
		}
		cmd.Amount = &amount
	}
	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.Approve(r.Context(), loanID, cmd)
	})
}

func (h *LoanHandler) UndoApproval(w http.ResponseWriter, r *http.Request) {
	h.undoWith(h.service.UndoApproval)(w, r)
}

func (h *LoanHandler) Disburse(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req DisburseRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	cmd := domain.DisburseCommand{
		Date:            parseDate(req.Date),
		TrancheID:       req.TrancheID,
		AccountTransfer: req.AccountTransfer,
		ExternalID:      req.ExternalID,
		PaymentDetail:   req.PaymentDetail,
	}
	if req.Amount != nil {
		amount, err := h.amount(r.Context(), loanID, *req.Amount)
		if err != nil {
			response.FromError(w, err)
			return
		}
		cmd.Amount = &amount
	}
	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.Disburse(r.Context(), loanID, cmd)
	})
}

func (h *LoanHandler) Repayment(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req RepaymentRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	amount, err := h.amount(r.Context(), loanID, req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}

	txType := domain.TransactionRepayment
	if req.Type != "" {
		txType = domain.TransactionType(req.Type)
	}
	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.MakeRepayment(r.Context(), loanID, domain.RepaymentCommand{
			Type:          txType,
			Date:          parseDate(req.Date),
			Amount:        amount,
			ExternalID:    req.ExternalID,
			PaymentDetail: req.PaymentDetail,
		})
	})
}

func (h *LoanHandler) WaiveInterest(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req WaiveInterestRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	amount, err := h.amount(r.Context(), loanID, req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.WaiveInterest(r.Context(), loanID, domain.WaiveInterestCommand{
			Date:       parseDate(req.Date),
			Amount:     amount,
			ExternalID: req.ExternalID,
		})
	})
}

func (h *LoanHandler) Refund(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req RefundRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	amount, err := h.amount(r.Context(), loanID, req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.Refund(r.Context(), loanID, domain.RefundCommand{
			Date:          parseDate(req.Date),
			Amount:        amount,
			ExternalID:    req.ExternalID,
			PaymentDetail: req.PaymentDetail,
		})
	})
}

func (h *LoanHandler) AdjustTransaction(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}
	var req AdjustTransactionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	amount, err := h.amount(r.Context(), loanID, req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.AdjustTransaction(r.Context(), loanID, txID, domain.AdjustTransactionCommand{
			Date:          parseDate(req.Date),
			Amount:        amount,
			ExternalID:    req.ExternalID,
			PaymentDetail: req.PaymentDetail,
		})
	})
}

func (h *LoanHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req CloseRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	action := service.TransferAction(mux.Vars(r)["action"])
	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.Transfer(r.Context(), loanID, action, req.toCommand())
	})
}

func (h *LoanHandler) AddCharge(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	var req ChargeRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.AddCharge(r.Context(), loanID, domain.AddChargeCommand{
			Definition: req.toDefinition(),
			DueDate:    parseOptionalDate(req.DueDate),
		})
	})
}

func (h *LoanHandler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	chargeID, ok := pathID(w, r, "chargeId")
	if !ok {
		return
	}

	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.DeleteCharge(r.Context(), loanID, chargeID)
	})
}

func (h *LoanHandler) PayCharge(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanId")
	if !ok {
		return
	}
	chargeID, ok := pathID(w, r, "chargeId")
	if !ok {
		return
	}
	var req PayChargeRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	cmd := domain.PayChargeCommand{
		ChargeID:          chargeID,
		InstallmentNumber: req.InstallmentNumber,
		Date:              parseDate(req.Date),
	}
	if req.Amount != nil {
		amount, err := h.amount(r.Context(), loanID, *req.Amount)
		if err != nil {
			response.FromError(w, err)
			return
		}
		cmd.Amount = &amount
	}
	h.respond(w, func() (*service.CommandResult, error) {
		return h.service.PayCharge(r.Context(), loanID, cmd)
	})
}

type closeFunc func(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*service.CommandResult, error)

func (h *LoanHandler) closeWith(fn closeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "loanId")
		if !ok {
			return
		}
		var req CloseRequest
		if !h.decode(w, r, &req, false) {
			return
		}
		h.respond(w, func() (*service.CommandResult, error) {
			return fn(r.Context(), loanID, req.toCommand())
		})
	}
}

func (h *LoanHandler) undoWith(fn func(ctx context.Context, loanID int64) (*service.CommandResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "loanId")
		if !ok {
			return
		}
		h.respond(w, func() (*service.CommandResult, error) {
			return fn(r.Context(), loanID)
		})
	}
}

type waiverFunc func(ctx context.Context, loanID, chargeID int64, installmentNumber int) (*service.CommandResult, error)

func (h *LoanHandler) chargeWaiver(fn waiverFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "loanId")
		if !ok {
			return
		}
		chargeID, ok := pathID(w, r, "chargeId")
		if !ok {
			return
		}
		var req WaiveChargeRequest
		if !h.decode(w, r, &req, true) {
			return
		}
		h.respond(w, func() (*service.CommandResult, error) {
			return fn(r.Context(), loanID, chargeID, req.InstallmentNumber)
		})
	}
}

func (h *LoanHandler) respond(w http.ResponseWriter, run func() (*service.CommandResult, error)) {
	result, err := run()
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, newCommandResponse(result))
}

// decode reads and validates the JSON body. An empty body is accepted when
// optional is set.
func (h *LoanHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			response.BadRequest(w, "Invalid request body", err)
			return false
		}
	}
	if err := h.validator.Struct(dst); err != nil {
		response.FromError(w, validationError(err))
		return false
	}
	return true
}

// amount binds d to the loan currency.
func (h *LoanHandler) amount(ctx context.Context, loanID int64, d decimal.Decimal) (money.Money, error) {
	loan, err := h.service.GetLoan(ctx, loanID)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(loan.Currency(), d), nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		response.FromError(w, customError.WrapValidation(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func newCommandResponse(result *service.CommandResult) *CommandResponse {
	resp := &CommandResponse{
		LoanID:        result.LoanID,
		TransactionID: result.TransactionID,
		ChargeIDs:     result.ChargeIDs,
		Loan:          newLoanResponse(result.Loan),
	}
	if !result.Changes.IsEmpty() {
		resp.Replaced = make(map[int64]int64, len(result.Changes.NewTransactionMappings))
		for oldID, tx := range result.Changes.NewTransactionMappings {
			if tx != nil {
				resp.Replaced[oldID] = tx.ID
			}
		}
	}
	return resp
}
