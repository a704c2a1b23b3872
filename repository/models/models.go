package models

import "time"

// ServiceAccount is a well-known ledger identity (registry owner, store
// authority, game server, trade operator). Kept off-chain so gateways can
// resolve addresses by role.
type ServiceAccount struct {
	Address   string    `gorm:"column:address;primaryKey;type:varchar(64)"`
	Role      string    `gorm:"column:role;type:varchar(50);not null"`
	Label     string    `gorm:"column:label;type:varchar(100)"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Operation is the audit record of one confirmed ledger transaction: the
// consensus hash, block height, operation type and the raw envelope as
// submitted. Append-only; rows are never updated.
type Operation struct {
	TxHash      string    `gorm:"column:tx_hash;primaryKey;type:varchar(66)"`
	OpType      string    `gorm:"column:op_type;type:varchar(30);index;not null"`
	Caller      string    `gorm:"column:caller;type:varchar(64);index;not null"`
	BlockHeight int64     `gorm:"column:block_height;not null"`
	Status      string    `gorm:"column:status;type:varchar(20);default:'confirmed'"`
	Payload     string    `gorm:"column:payload;type:jsonb"`
	Result      string    `gorm:"column:result;type:jsonb"`
	Timestamp   time.Time `gorm:"column:timestamp;not null"`
}
