package payments

import "fmt"

// Manager is a registry of tokenization gateways. A deployment registers
// exactly one active strategy, but the registry keeps the seam open for
// swapping providers without touching the orchestrator.
type Manager struct {
	gateways map[string]TokenizationGateway
}

func NewManager() *Manager {
	return &Manager{gateways: make(map[string]TokenizationGateway)}
}

func (m *Manager) Register(gateway TokenizationGateway) {
	m.gateways[gateway.Name()] = gateway
}

func (m *Manager) Gateway(name string) (TokenizationGateway, error) {
	gw, ok := m.gateways[name]
	if !ok {
		return nil, fmt.Errorf("gateway not registered: %s", name)
	}
	return gw, nil
}
