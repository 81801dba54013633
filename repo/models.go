// Package repo owns the ORM (GORM) details behind every repository
// interface the core packages depend on: quota.Source, conversation.Store,
// routing.ArmRepository, secrets.Source, and the presets/instances/models/
// credentials lookups the routing step joins into routing.Candidate.
package repo

import "time"

// ProviderPreset is a named, operator-curated bundle of provider
// instance/model/credential choices exposed to callers as a single
// selectable preset (e.g. "fast-cheap", "highest-quality").
type ProviderPreset struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Code        string `gorm:"size:64;uniqueIndex"`
	Name        string `gorm:"size:200"`
	Description string `gorm:"type:text"`
	Enabled     bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProviderPreset) TableName() string { return "gw_provider_presets" }

// ProviderInstance is one deployed endpoint of a provider (e.g. a specific
// Azure OpenAI resource, or the public OpenAI API), carrying the base URL
// and protocol used to compute request URLs.
type ProviderInstance struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ProviderCode string `gorm:"size:64;index"`
	Protocol     string `gorm:"size:32"` // openai | azure_openai | gemini | vertex
	BaseURL      string `gorm:"size:500"`
	APIVersion   string `gorm:"size:32"`
	Enabled      bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ProviderInstance) TableName() string { return "gw_provider_instances" }

// ProviderModel maps a canonical model id to the remote model name served
// by one provider instance, plus pricing and template references.
type ProviderModel struct {
	ID                 uint64  `gorm:"primaryKey;autoIncrement"`
	InstanceID         uint64  `gorm:"index:idx_instance_model"`
	ModelID            string  `gorm:"size:128;index:idx_instance_model"`
	RemoteModelName    string  `gorm:"size:128"`
	Engine             string  `gorm:"size:32"` // simple_replace | jinja_like | vendor_builder
	Vendor             string  `gorm:"size:32"` // anthropic | gemini | openai_responses
	RequestTemplate    string  `gorm:"type:text"`
	ResponseTransform  string  `gorm:"type:text"`
	Priority           int     `gorm:"default:100"`
	Weight             float64 `gorm:"default:1"`
	MaxCostPerReq      float64
	MaxLatencyMs       int
	MinSuccessRate     float64
	InputPer1K         float64
	OutputPer1K        float64
	CacheReadPer1K     float64
	ImagePerCall       float64
	AudioPerSecond     float64
	Enabled            bool `gorm:"default:true"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ProviderModel) TableName() string { return "gw_provider_models" }

// ProviderCredential is a secret_ref_id-backed credential bound to an
// instance; the secrets.Manager resolves CredentialRef to plaintext.
type ProviderCredential struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	InstanceID    uint64 `gorm:"index"`
	CredentialRef string `gorm:"size:128"`
	Label         string `gorm:"size:100"`
	Enabled       bool   `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProviderCredential) TableName() string { return "gw_provider_credentials" }

// BanditArm is the persisted row behind routing.ArmState, one per
// (provider model, credential) pair — the unique arm the routing selector
// samples from. Version backs optimistic concurrency: writers CAS on
// Version, retry on mismatch, and drop the update after K retries.
type BanditArm struct {
	ArmID         string  `gorm:"primaryKey;size:128"`
	Alpha         float64 `gorm:"default:1"`
	Beta          float64 `gorm:"default:1"`
	Successes     int64
	Failures      int64
	LatencyP50Ms  float64
	LatencyP95Ms  float64
	CooldownUntil time.Time
	Disabled      bool
	Version       int64 `gorm:"default:0"`
	UpdatedAt     time.Time
}

func (BanditArm) TableName() string { return "gw_bandit_arms" }

// QuotaRecord is the persisted per-subject, per-kind quota row backing
// quota.Source. Used only to seed the KV cache on a miss — the KV copy is
// authoritative for the hot path.
type QuotaRecord struct {
	Subject   string    `gorm:"primaryKey;size:128"`
	Kind      string    `gorm:"primaryKey;size:16"`
	Total     float64
	Used      float64
	ResetAt   time.Time
	UpdatedAt time.Time
}

func (QuotaRecord) TableName() string { return "gw_quota_records" }

// Secret is the encrypted-at-rest backing row behind secrets.Source;
// Plaintext here stands in for whatever decryption the deployment's KMS
// integration performs before handing the value to the gateway.
type Secret struct {
	Provider  string `gorm:"primaryKey;size:64"`
	Ref       string `gorm:"primaryKey;size:128"`
	Plaintext string `gorm:"type:text"`
	Version   int
	RotatedAt time.Time
}

func (Secret) TableName() string { return "gw_secrets" }

// APIKeyRecord binds a caller-facing API key id to the HMAC secret hash
// the signature step verifies requests against.
type APIKeyRecord struct {
	APIKeyID   string `gorm:"primaryKey;size:64"`
	SecretHash string `gorm:"size:128"`
	Subject    string `gorm:"size:128;index"`
	Revoked    bool   `gorm:"default:false"`
	CreatedAt  time.Time
}

func (APIKeyRecord) TableName() string { return "gw_api_keys" }

// ConversationSession groups an ordered sequence of ConversationMessage
// rows for the internal channel.
type ConversationSession struct {
	ID             string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"index"`
	LastActiveAt   time.Time
	MessageCount   int
	NextTurnIndex  int
	CreatedAt      time.Time
}

func (ConversationSession) TableName() string { return "gw_conversation_sessions" }

// ConversationMessageRow is the persisted form of conversation.Message,
// unique on (session_id, turn_index).
type ConversationMessageRow struct {
	ID            string `gorm:"primaryKey;size:26"` // ULID
	SessionID     string `gorm:"uniqueIndex:idx_session_turn;size:64"`
	TurnIndex     int    `gorm:"uniqueIndex:idx_session_turn"`
	Role          string `gorm:"size:16"`
	Content       string `gorm:"type:text"`
	UsedPersonaID string `gorm:"size:64"`
	CreatedAt     time.Time
}

func (ConversationMessageRow) TableName() string { return "gw_conversation_messages" }

// BridgeAgentToken is the internal-channel service-to-service credential,
// unique per (user_id, agent_id), with Version tracking rotation.
type BridgeAgentToken struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_user_agent;size:64"`
	AgentID   string `gorm:"uniqueIndex:idx_user_agent;size:64"`
	TokenHash string `gorm:"size:128"`
	Version   int    `gorm:"default:1"`
	CreatedAt time.Time
	RotatedAt time.Time
}

func (BridgeAgentToken) TableName() string { return "gw_bridge_agent_tokens" }

// User is the internal-channel account row JWT bearer tokens are issued
// against. TokenVersion is bumped on password change or forced logout;
// a JWT whose embedded version doesn't match the current row is rejected
// even though its signature and expiry are still valid.
type User struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"size:200;uniqueIndex"`
	TokenVersion int    `gorm:"default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "gw_users" }

// MediaAsset dedups generated media outputs by content hash plus size, per
// the supplemented media-generation capability.
type MediaAsset struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	ContentHash string `gorm:"uniqueIndex:idx_hash_size;size:64"`
	Size        int64  `gorm:"uniqueIndex:idx_hash_size"`
	MimeType    string `gorm:"size:100"`
	StorageURI  string `gorm:"size:500"`
	CreatedAt   time.Time
}

func (MediaAsset) TableName() string { return "gw_media_assets" }
