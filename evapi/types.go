package evapi

// SocketAvailable is the connector status a reservation can target.
const SocketAvailable = "AVAILABLE"

// ChargePoint is the charge point detail document as the backend returns it:
// one charge point, its location block and the logical/physical socket tree.
type ChargePoint struct {
	CPID           int             `json:"cpId"`
	LocationData   LocationData    `json:"locationData"`
	LogicalSockets []LogicalSocket `json:"logicalSocket"`
}

type LocationData struct {
	CuprID   int    `json:"cuprId"`
	CuprName string `json:"cuprName"`
}

type LogicalSocket struct {
	LogicalSocketID int              `json:"logicalSocketId"`
	PhysicalSockets []PhysicalSocket `json:"physicalSocket"`
}

type PhysicalSocket struct {
	PhysicalSocketID   int          `json:"physicalSocketId"`
	PhysicalSocketCode string       `json:"physicalSocketCode"`
	SocketType         SocketType   `json:"socketType"`
	MaxPower           float64      `json:"maxPower"`
	Status             SocketStatus `json:"status"`
	AppliedRate        AppliedRate  `json:"appliedRate"`
}

type SocketType struct {
	SocketName string `json:"socketName"`
}

type SocketStatus struct {
	StatusCode string `json:"statusCode"`
	UpdateDate string `json:"updateDate"`
}

type AppliedRate struct {
	Recharge Rate `json:"recharge"`
	Reserve  Rate `json:"reserve"`
}

type Rate struct {
	FinalPrice float64 `json:"finalPrice"`
}

// Socket is the flattened view of one physical connector, one row per
// connector regardless of how the charge point nests them.
type Socket struct {
	CuprID           int
	CuprName         string
	CPID             int
	LogicalSocketID  int
	PhysicalSocketID int
	SocketCode       string
	SocketType       string
	MaxPower         float64
	Status           string
	StatusUpdated    string
	Price            float64
}

// Transaction reports whether the account currently holds a recharge or a
// reservation, and where.
type Transaction struct {
	RechargeInProgress    bool   `json:"rechargeInProgress"`
	ReservationInProgress bool   `json:"reservationInProgress"`
	CuprID                int    `json:"cuprId"`
	PhysicalSocketID      int    `json:"physicalSocketId"`
	ReservationEndDate    string `json:"reservationEndDate"`
}

// Reservation is the detailed view of the account's active reservation.
type Reservation struct {
	ReservationID    int             `json:"reservationId"`
	ChargePointInfo  ChargePointInfo `json:"chargePointInfo"`
	PhysicalSocketID int             `json:"physicalSocketId"`
	SocketType       SocketType      `json:"socketType"`
	StartDate        string          `json:"startDate"`
	EndDate          string          `json:"endDate"`
	Reserve          Rate            `json:"reserve"`
	CancelationCost  float64         `json:"cancelationCost"`
	Status           StatusInfo      `json:"status"`
}

type ChargePointInfo struct {
	FoldedTitle string `json:"foldedTitle"`
}

type StatusInfo struct {
	Description string `json:"description"`
}

type Favorite struct {
	CuprID   int    `json:"cuprId"`
	CuprName string `json:"cuprName"`
}

// PaymentMethod is the stored card the gateway charges against.
type PaymentMethod struct {
	Token      string `json:"token"`
	CardNumber string `json:"cardNumber"`
}

// Order is the payment order the backend issues ahead of a reservation. All
// of it except OrderID is merchant routing data consumed verbatim by the
// payment gateway.
type Order struct {
	OrderID            string `json:"orderId"`
	MerchantCode       string `json:"merchantCode"`
	Terminal           string `json:"terminal"`
	Currency           string `json:"currency"`
	ProductDescription string `json:"productDescription"`
	MerchantURL        string `json:"merchantUrl"`
	URLOk              string `json:"urlOk"`
	URLKo              string `json:"urlKo"`
	ConsumerLanguage   string `json:"consumerLanguage"`
}

// ReservationResult is the backend's acknowledgement of a new reservation.
type ReservationResult struct {
	ReservationID int        `json:"reservationId"`
	StartDate     string     `json:"startDate"`
	EndDate       string     `json:"endDate"`
	Reserve       Rate       `json:"reserve"`
	Status        StatusInfo `json:"status"`
}

// FlattenSockets turns charge point documents into one Socket per physical
// connector.
func FlattenSockets(points []ChargePoint) []Socket {
	var sockets []Socket
	for _, cp := range points {
		for _, ls := range cp.LogicalSockets {
			for _, ps := range ls.PhysicalSockets {
				sockets = append(sockets, Socket{
					CuprID:           cp.LocationData.CuprID,
					CuprName:         cp.LocationData.CuprName,
					CPID:             cp.CPID,
					LogicalSocketID:  ls.LogicalSocketID,
					PhysicalSocketID: ps.PhysicalSocketID,
					SocketCode:       ps.PhysicalSocketCode,
					SocketType:       ps.SocketType.SocketName,
					MaxPower:         ps.MaxPower,
					Status:           ps.Status.StatusCode,
					StatusUpdated:    ps.Status.UpdateDate,
					Price:            ps.AppliedRate.Recharge.FinalPrice,
				})
			}
		}
	}
	return sockets
}
