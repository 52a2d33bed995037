package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
)

// PayslipProvider renders a settlement and its stored breakdown as a PDF payslip.
type PayslipProvider struct {
	issuer string
}

func NewPayslipProvider(issuer string) *PayslipProvider {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "RepairPay"
	}
	return &PayslipProvider{issuer: issuer}
}

func (p *PayslipProvider) RenderPayslip(ctx context.Context, settlement settlementdomain.SalarySettlement) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	details := settlement.Details.Data()
	week := payoutweek.WeekRange(settlement.WeekStart)
	epoch := payoutweek.EpochOf(settlement.WeekStart)

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(8, "Payslip", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, p.issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Settlement: "+settlement.ID.String(), props.Text{Top: 0}),
			text.New("Technician: "+settlement.TechnicianID.String(), props.Text{Top: 5}),
			text.New("Issued: "+settlement.CreatedAt.UTC().Format("2006-01-02 15:04")+" UTC", props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New(fmt.Sprintf("Payout week %d/%d", epoch.Week, epoch.Year), props.Text{Top: 0, Align: align.Right}),
			text.New(payoutweek.FormatDate(week.Start)+" to "+payoutweek.FormatDate(week.End), props.Text{Top: 5, Align: align.Right}),
			text.New("Paid by: "+paymentLabel(settlement.PaymentMethod), props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(4, line.NewCol(12))

	for _, row := range payslipRows(settlement, details) {
		style := fontstyle.Normal
		if row.bold {
			style = fontstyle.Bold
		}
		m.AddRow(7,
			text.NewCol(8, row.label, props.Text{Size: 10, Style: style}),
			text.NewCol(4, row.amount, props.Text{Size: 10, Style: style, Align: align.Right}),
		)
	}

	if len(details.Applied) > 0 {
		m.AddRow(10, text.NewCol(12, "Adjustments applied", props.Text{Size: 11, Style: fontstyle.Bold, Top: 4}))
		for _, applied := range details.Applied {
			m.AddRow(6,
				text.NewCol(5, applied.AdjustmentID, props.Text{Size: 9}),
				text.NewCol(3, applied.Type, props.Text{Size: 9}),
				text.NewCol(4, money(applied.Applied), props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	if len(details.CarriedOver) > 0 {
		m.AddRow(10, text.NewCol(12, "Carried to next week", props.Text{Size: 11, Style: fontstyle.Bold, Top: 4}))
		for _, carry := range details.CarriedOver {
			m.AddRow(6,
				text.NewCol(5, carry.AdjustmentID, props.Text{Size: 9}),
				text.NewCol(3, "from "+payoutweek.FormatDate(carry.AvailableFrom), props.Text{Size: 9}),
				text.NewCol(4, money(carry.Amount), props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	if note := strings.TrimSpace(details.Note); note != "" {
		m.AddRow(14, text.NewCol(12, "Note: "+note, props.Text{Size: 9, Top: 6}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate payslip: %w", err)
	}
	return doc.GetBytes(), nil
}

type payslipRow struct {
	label  string
	amount string
	bold   bool
}

func payslipRows(settlement settlementdomain.SalarySettlement, details settlementdomain.SettlementDetails) []payslipRow {
	rows := []payslipRow{
		{label: "Commission earned", amount: money(details.GrossEarned)},
		{label: "Returns", amount: money(-details.ReturnsTotal)},
		{label: "Previously settled", amount: money(-details.AlreadySettled)},
		{label: "Available before this payment", amount: money(details.BaseAmount), bold: true},
		{label: "Adjustments deducted", amount: money(-settlement.DeductedAmount)},
	}
	if details.DeferredHoldback > 0 {
		rows = append(rows, payslipRow{label: "Held for next week", amount: money(details.DeferredHoldback)})
	}
	if split := details.Split; split != nil {
		rows = append(rows,
			payslipRow{label: "Cash", amount: money(split.Cash)},
			payslipRow{label: "Transfer", amount: money(split.Transfer)},
		)
	}
	rows = append(rows, payslipRow{label: "Paid", amount: money(settlement.Amount), bold: true})
	return rows
}

func paymentLabel(method settlementdomain.PaymentMethod) string {
	switch method {
	case settlementdomain.PaymentMethodCash:
		return "Cash"
	case settlementdomain.PaymentMethodTransfer:
		return "Transfer"
	case settlementdomain.PaymentMethodCashAndTransfer:
		return "Cash and transfer"
	default:
		return string(method)
	}
}

func money(amount int64) string {
	return humanize.Comma(amount)
}
