package models

import "time"

// Account stores one browser-captured credential row for the upstream
// session pool. Alias is the stable identity chosen at capture time; the
// cookie pair is the actual credential.
type Account struct {
	Alias       string `gorm:"primaryKey"`
	PSID        string `gorm:"column:psid"`
	PSIDTS      string `gorm:"column:psidts"`
	Proxy       string // optional outbound proxy for this account
	Headers     string // JSON blob of headers captured from the browser
	Enabled     bool   `gorm:"default:true"`
	CallCount   int    // rotation key, only ever incremented or bulk-reset
	LastUsed    time.Time
	LastUpdated time.Time
}
