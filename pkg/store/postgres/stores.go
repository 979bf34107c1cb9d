package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

// WalletStore is a wallet.Store over PostgreSQL.
type WalletStore struct {
	db *gorm.DB
}

func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Create(ctx context.Context, w *types.AgentWallet) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&WalletRow{}).Where("agent_id = ?", w.AgentID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check wallet existence: %w", err)
	}
	if count > 0 {
		return wallet.ErrAlreadyExists
	}
	row, err := walletRow(w)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *WalletStore) Get(ctx context.Context, agentID string) (*types.AgentWallet, error) {
	var row WalletRow
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wallet.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	var w types.AgentWallet
	if err := json.Unmarshal([]byte(row.Data), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet: %w", err)
	}
	return &w, nil
}

func (s *WalletStore) Update(ctx context.Context, w *types.AgentWallet) error {
	row, err := walletRow(w)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&WalletRow{}).Where("agent_id = ?", w.AgentID).
		Updates(map[string]any{
			"custody_mode": row.CustodyMode,
			"status":       row.Status,
			"data":         row.Data,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update wallet: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return wallet.ErrNotFound
	}
	return nil
}

func walletRow(w *types.AgentWallet) (*WalletRow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet: %w", err)
	}
	return &WalletRow{
		AgentID:     w.AgentID,
		CustodyMode: string(w.Mode),
		Status:      string(w.Status),
		Data:        string(data),
	}, nil
}

// StrategyStore is a strategy.Store over PostgreSQL.
type StrategyStore struct {
	db *gorm.DB
}

func NewStrategyStore(db *gorm.DB) *StrategyStore {
	return &StrategyStore{db: db}
}

func (s *StrategyStore) Create(ctx context.Context, st *strategy.Strategy) error {
	row, err := strategyRow(st)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}
	return nil
}

func (s *StrategyStore) Get(ctx context.Context, id string) (*strategy.Strategy, error) {
	var row StrategyRow
	if err := s.db.WithContext(ctx).Where("strategy_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, strategy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	var st strategy.Strategy
	if err := json.Unmarshal([]byte(row.Data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy: %w", err)
	}
	return &st, nil
}

func (s *StrategyStore) Update(ctx context.Context, st *strategy.Strategy) error {
	row, err := strategyRow(st)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&StrategyRow{}).Where("strategy_id = ?", st.ID).
		Updates(map[string]any{
			"status": row.Status,
			"data":   row.Data,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update strategy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return strategy.ErrNotFound
	}
	return nil
}

func (s *StrategyStore) AppendExecution(ctx context.Context, r *strategy.ExecutionResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	row := &ExecutionRow{
		ExecutionID: r.ExecutionID,
		StrategyID:  r.StrategyID,
		Success:     r.Success,
		Data:        string(data),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}
	return nil
}

func (s *StrategyStore) Executions(ctx context.Context, strategyID string) ([]*strategy.ExecutionResult, error) {
	var rows []ExecutionRow
	if err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}
	out := make([]*strategy.ExecutionResult, 0, len(rows))
	for _, row := range rows {
		var r strategy.ExecutionResult
		if err := json.Unmarshal([]byte(row.Data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func strategyRow(st *strategy.Strategy) (*StrategyRow, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal strategy: %w", err)
	}
	return &StrategyRow{
		StrategyID: st.ID,
		AgentID:    st.AgentID,
		Status:     string(st.Status),
		Data:       string(data),
	}, nil
}

// FeeStore is a fees.Store over PostgreSQL.
type FeeStore struct {
	db *gorm.DB
}

func NewFeeStore(db *gorm.DB) *FeeStore {
	return &FeeStore{db: db}
}

func (s *FeeStore) SaveFee(ctx context.Context, r *fees.FeeRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal fee record: %w", err)
	}
	row := &FeeRow{
		FeeID:   r.FeeID,
		AgentID: r.AgentID,
		FeeType: string(r.Type),
		Data:    string(data),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to save fee record: %w", err)
	}
	return nil
}

func (s *FeeStore) GetFee(ctx context.Context, feeID string) (*fees.FeeRecord, error) {
	var row FeeRow
	if err := s.db.WithContext(ctx).Where("fee_id = ?", feeID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load fee record: %w", err)
	}
	var r fees.FeeRecord
	if err := json.Unmarshal([]byte(row.Data), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fee record: %w", err)
	}
	return &r, nil
}

func (s *FeeStore) UpdateFee(ctx context.Context, r *fees.FeeRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal fee record: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&FeeRow{}).Where("fee_id = ?", r.FeeID).
		Update("data", string(data))
	if res.Error != nil {
		return fmt.Errorf("failed to update fee record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fees.ErrFeeNotFound
	}
	return nil
}

func (s *FeeStore) FeesByAgent(ctx context.Context, agentID string) ([]*fees.FeeRecord, error) {
	var rows []FeeRow
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load fee records: %w", err)
	}
	out := make([]*fees.FeeRecord, 0, len(rows))
	for _, row := range rows {
		var r fees.FeeRecord
		if err := json.Unmarshal([]byte(row.Data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fee record: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *FeeStore) Creator(ctx context.Context, address string) (*fees.CreatorBalance, error) {
	var row CreatorRow
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load creator balance: %w", err)
	}
	var b fees.CreatorBalance
	if err := json.Unmarshal([]byte(row.Data), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal creator balance: %w", err)
	}
	return &b, nil
}

func (s *FeeStore) SaveCreator(ctx context.Context, b *fees.CreatorBalance) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal creator balance: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&CreatorRow{}).Where("address = ?", b.Address).
		Update("data", string(data))
	if res.Error != nil {
		return fmt.Errorf("failed to save creator balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		row := &CreatorRow{Address: b.Address, Data: string(data)}
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
			return fmt.Errorf("failed to create creator balance: %w", err)
		}
	}
	return nil
}

// RegistryStore is a registry.Store over PostgreSQL.
type RegistryStore struct {
	db *gorm.DB
}

func NewRegistryStore(db *gorm.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

func (s *RegistryStore) Create(ctx context.Context, e *registry.Entry) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AgentRow{}).Where("agent_id = ?", e.AgentID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check agent existence: %w", err)
	}
	if count > 0 {
		return registry.ErrAlreadyRegistered
	}
	row, err := agentRow(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create agent entry: %w", err)
	}
	return nil
}

func (s *RegistryStore) Get(ctx context.Context, agentID string) (*registry.Entry, error) {
	var row AgentRow
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, registry.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to load agent entry: %w", err)
	}
	var e registry.Entry
	if err := json.Unmarshal([]byte(row.Data), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent entry: %w", err)
	}
	return &e, nil
}

func (s *RegistryStore) Update(ctx context.Context, e *registry.Entry) error {
	row, err := agentRow(e)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&AgentRow{}).Where("agent_id = ?", e.AgentID).
		Updates(map[string]any{
			"owner":  row.Owner,
			"status": row.Status,
			"data":   row.Data,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update agent entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return registry.ErrAgentNotFound
	}
	return nil
}

func (s *RegistryStore) List(ctx context.Context) ([]*registry.Entry, error) {
	var rows []AgentRow
	if err := s.db.WithContext(ctx).Order("agent_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list agent entries: %w", err)
	}
	out := make([]*registry.Entry, 0, len(rows))
	for _, row := range rows {
		var e registry.Entry
		if err := json.Unmarshal([]byte(row.Data), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func agentRow(e *registry.Entry) (*AgentRow, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent entry: %w", err)
	}
	return &AgentRow{
		AgentID: e.AgentID,
		Owner:   e.Owner,
		Status:  string(e.Status),
		Data:    string(data),
	}, nil
}
