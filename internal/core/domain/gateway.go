package domain

// GatewayID identifies an external endpoint the dispatcher runs tasks against.
type GatewayID string

func (g GatewayID) String() string {
	return string(g)
}

// GatewayStatus is the derived health state of a gateway.
type GatewayStatus string

const (
	StatusOnline   GatewayStatus = "online"
	StatusDegraded GatewayStatus = "degraded"
	StatusOffline  GatewayStatus = "offline"
)
