package state

var (
	accountPrefix         = []byte("account:")
	settlementRecordKey   = []byte("settlement/record:")
	settlementSeqKey      = []byte("settlement/seq")
	settlementPartyPrefix = []byte("settlement/party:")
	milestonePrefix       = []byte("settlement/milestone:")
	depositPrefix         = []byte("timelock/deposit:")
	vaultSeed             = []byte("custodia/vault/")
)
