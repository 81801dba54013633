package repo

import "gorm.io/gorm"

// AutoMigrate creates or updates every table this package owns. Schema
// migrations for production deployments are owned by versioned SQL files
// applied out of band; this is the development/test convenience path.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProviderPreset{},
		&ProviderInstance{},
		&ProviderModel{},
		&ProviderCredential{},
		&BanditArm{},
		&QuotaRecord{},
		&Secret{},
		&APIKeyRecord{},
		&ConversationSession{},
		&ConversationMessageRow{},
		&BridgeAgentToken{},
		&MediaAsset{},
		&User{},
	)
}
