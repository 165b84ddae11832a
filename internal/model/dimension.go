package model

import "time"

// UnknownID is the surrogate id of the sentinel row in every dimension.
const UnknownID int64 = -1

// UnknownKey is the natural key stored on sentinel rows.
const UnknownKey = "unknown"

// DimensionKind names a dimension table.
type DimensionKind string

const (
	DimGame     DimensionKind = "game"
	DimLocation DimensionKind = "location"
)

type Game struct {
	ID        int64     `gorm:"primaryKey"`
	GameName  string    `gorm:"size:128;not null;uniqueIndex"`
	Genre     string    `gorm:"size:64;not null;default:'unclassified'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Game) TableName() string { return "dim_game" }

type Location struct {
	ID          int64     `gorm:"primaryKey"`
	CountryCode string    `gorm:"size:64;not null;uniqueIndex"`
	CountryName string    `gorm:"size:128;not null"`
	Region      string    `gorm:"size:64;not null;default:'unknown'"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (Location) TableName() string { return "dim_location" }
