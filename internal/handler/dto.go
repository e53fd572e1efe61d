package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c coordinates) model() model.Coordinates {
	return model.Coordinates{Lat: c.Lat, Lon: c.Lon}
}

func newCoordinates(c model.Coordinates) coordinates {
	return coordinates{Lat: c.Lat, Lon: c.Lon}
}

type itemRequest struct {
	ProductID    string          `json:"productId"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit,omitempty"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
}

func itemInputs(items []itemRequest) []service.ItemInput {
	res := make([]service.ItemInput, 0, len(items))
	for _, it := range items {
		res = append(res, service.ItemInput{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			Unit:         it.Unit,
			PricePerUnit: it.PricePerUnit,
		})
	}
	return res
}

type buyerResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	Area            string          `json:"area,omitempty"`
	Location        coordinates     `json:"location"`
	TrustScore      int             `json:"trustScore"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	UsedCredit      decimal.Decimal `json:"usedCredit"`
	TotalSavings    decimal.Decimal `json:"totalSavings"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func newBuyerResponse(b *model.Buyer) buyerResponse {
	return buyerResponse{
		ID:              b.ID,
		Name:            b.Name,
		Phone:           b.Phone,
		Area:            b.Area,
		Location:        newCoordinates(b.Location),
		TrustScore:      b.TrustScore,
		AvailableCredit: b.AvailableCredit,
		UsedCredit:      b.UsedCredit,
		TotalSavings:    b.TotalSavings,
		CreatedAt:       b.CreatedAt,
	}
}

type supplierResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	DeliveryAreas []string        `json:"deliveryAreas"`
	Categories    []string        `json:"categories"`
	Rating        decimal.Decimal `json:"rating"`
	TotalOrders   int             `json:"totalOrders"`
	Location      coordinates     `json:"location"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func newSupplierResponse(s *model.Supplier) supplierResponse {
	return supplierResponse{
		ID:            s.ID,
		Name:          s.Name,
		Phone:         s.Phone,
		DeliveryAreas: s.DeliveryAreas,
		Categories:    s.Categories,
		Rating:        s.Rating,
		TotalOrders:   s.TotalOrders,
		Location:      newCoordinates(s.Location),
		CreatedAt:     s.CreatedAt,
	}
}

type productResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
}

func newProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Unit:        p.Unit,
		MarketPrice: p.MarketPrice,
	}
}

type memberResponse struct {
	BuyerID     string    `json:"buyerId"`
	IsConfirmed bool      `json:"isConfirmed"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type groupResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	CreatedBy            string           `json:"createdBy"`
	PickupLocation       string           `json:"pickupLocation"`
	Location             coordinates      `json:"location"`
	TargetPickupTime     time.Time        `json:"targetPickupTime"`
	ConfirmationDeadline time.Time        `json:"confirmationDeadline"`
	MinMembers           int              `json:"minMembers"`
	MaxMembers           int              `json:"maxMembers"`
	Status               string           `json:"status"`
	TotalValue           decimal.Decimal  `json:"totalValue"`
	EstimatedSavings     decimal.Decimal  `json:"estimatedSavings"`
	CreatedAt            time.Time        `json:"createdAt"`
	Members              []memberResponse `json:"members,omitempty"`
}

func newGroupResponse(g *model.BuyingGroup) groupResponse {
	resp := groupResponse{
		ID:                   g.ID,
		Name:                 g.Name,
		CreatedBy:            g.CreatedBy,
		PickupLocation:       g.PickupLocation,
		Location:             newCoordinates(g.Location),
		TargetPickupTime:     g.TargetPickupTime,
		ConfirmationDeadline: g.ConfirmationDeadline,
		MinMembers:           g.MinMembers,
		MaxMembers:           g.MaxMembers,
		Status:               string(g.Status),
		TotalValue:           g.TotalValue,
		EstimatedSavings:     g.EstimatedSavings,
		CreatedAt:            g.CreatedAt,
	}
	for _, m := range g.Members {
		resp.Members = append(resp.Members, memberResponse{
			BuyerID:     m.BuyerID,
			IsConfirmed: m.IsConfirmed,
			JoinedAt:    m.JoinedAt,
		})
	}
	return resp
}

type suggestionResponse struct {
	Group       groupResponse `json:"group"`
	DistanceKm  float64       `json:"distanceKm"`
	MemberCount int           `json:"memberCount"`
}

type contributionResponse struct {
	BuyerID  string          `json:"buyerId"`
	OrderID  string          `json:"orderId"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type consolidatedItemResponse struct {
	ProductID     string                 `json:"productId"`
	ProductName   string                 `json:"productName"`
	Category      string                 `json:"category"`
	Unit          string                 `json:"unit"`
	TotalQuantity decimal.Decimal        `json:"totalQuantity"`
	TotalPrice    decimal.Decimal        `json:"totalPrice"`
	Contributions []contributionResponse `json:"contributions"`
}

func newConsolidatedItems(items []model.ConsolidatedItem) []consolidatedItemResponse {
	res := make([]consolidatedItemResponse, 0, len(items))
	for _, it := range items {
		ci := consolidatedItemResponse{
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Category:      it.Category,
			Unit:          it.Unit,
			TotalQuantity: it.TotalQuantity,
			TotalPrice:    it.TotalPrice,
			Contributions: make([]contributionResponse, 0, len(it.Contributions)),
		}
		for _, c := range it.Contributions {
			ci.Contributions = append(ci.Contributions, contributionResponse(c))
		}
		res = append(res, ci)
	}
	return res
}

type consolidatedResponse struct {
	GroupID    string                     `json:"groupId"`
	Items      []consolidatedItemResponse `json:"items"`
	TotalValue decimal.Decimal            `json:"totalValue"`
}

type orderItemResponse struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	BuyerID       string              `json:"buyerId"`
	GroupID       string              `json:"groupId,omitempty"`
	OrderType     string              `json:"orderType"`
	Status        string              `json:"status"`
	TotalAmount   decimal.Decimal     `json:"totalAmount"`
	PaymentMethod string              `json:"paymentMethod"`
	SupplierID    string              `json:"supplierId,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	Items         []orderItemResponse `json:"items,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		BuyerID:       o.BuyerID,
		GroupID:       o.GroupID,
		OrderType:     string(o.OrderType),
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount,
		PaymentMethod: string(o.PaymentMethod),
		SupplierID:    o.SupplierID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:           it.ID,
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			Unit:         it.Unit,
			PricePerUnit: it.PricePerUnit,
			TotalPrice:   it.TotalPrice,
		})
	}
	return resp
}

type bidResponse struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplierId"`
	TargetType   string          `json:"targetType"`
	TargetID     string          `json:"targetId"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Message      string          `json:"message,omitempty"`
	DeliveryTime time.Time       `json:"deliveryTime"`
	ValidUntil   time.Time       `json:"validUntil"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func newBidResponse(b *model.Bid) bidResponse {
	return bidResponse{
		ID:           b.ID,
		SupplierID:   b.SupplierID,
		TargetType:   string(b.Target.Kind),
		TargetID:     b.Target.ID,
		TotalAmount:  b.TotalAmount,
		Message:      b.Message,
		DeliveryTime: b.DeliveryTime,
		ValidUntil:   b.ValidUntil,
		Status:       string(b.Status),
		CreatedAt:    b.CreatedAt,
	}
}

func newBidList(bids []model.Bid) []bidResponse {
	res := make([]bidResponse, 0, len(bids))
	for i := range bids {
		res = append(res, newBidResponse(&bids[i]))
	}
	return res
}

type availableResponse struct {
	TargetType  string                     `json:"targetType"`
	TargetID    string                     `json:"targetId"`
	Name        string                     `json:"name,omitempty"`
	Area        string                     `json:"area,omitempty"`
	Categories  []string                   `json:"categories"`
	TotalValue  decimal.Decimal            `json:"totalValue"`
	MemberCount int                        `json:"memberCount,omitempty"`
	PickupTime  time.Time                  `json:"pickupTime"`
	Items       []consolidatedItemResponse `json:"items"`
}

type creditTransactionResponse struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Description string          `json:"description,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func newCreditTransactions(txs []model.CreditTransaction) []creditTransactionResponse {
	res := make([]creditTransactionResponse, 0, len(txs))
	for _, t := range txs {
		res = append(res, newCreditTransaction(t))
	}
	return res
}

func newCreditTransaction(t model.CreditTransaction) creditTransactionResponse {
	return creditTransactionResponse{
		ID:          t.ID,
		OrderID:     t.OrderID,
		Amount:      t.Amount,
		Type:        string(t.Type),
		Status:      string(t.Status),
		Description: t.Description,
		DueDate:     t.DueDate,
		PaidAt:      t.PaidAt,
		CreatedAt:   t.CreatedAt,
	}
}

type creditStatusResponse struct {
	AvailableCredit    decimal.Decimal             `json:"availableCredit"`
	UsedCredit         decimal.Decimal             `json:"usedCredit"`
	RemainingCredit    decimal.Decimal             `json:"remainingCredit"`
	TrustScore         int                         `json:"trustScore"`
	UtilizationRatio   decimal.Decimal             `json:"utilizationRatio"`
	OverdueAmount      decimal.Decimal             `json:"overdueAmount"`
	Overdue            []creditTransactionResponse `json:"overdue"`
	RecentTransactions []creditTransactionResponse `json:"recentTransactions"`
}

type paymentResponse struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Method    string          `json:"method"`
	Status    string          `json:"status"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type repaymentResponse struct {
	Payment        paymentResponse           `json:"payment"`
	Transaction    creditTransactionResponse `json:"transaction"`
	UsedCredit     decimal.Decimal           `json:"usedCredit"`
	SettledCharges []string                  `json:"settledCharges"`
}

type increaseResponse struct {
	Approved        bool            `json:"approved"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	ApprovedAmount  decimal.Decimal `json:"approvedAmount"`
	NewLimit        decimal.Decimal `json:"newLimit"`
	Reason          string          `json:"reason,omitempty"`
}
