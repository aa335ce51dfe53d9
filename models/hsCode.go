package models

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
)

// HsCode is a Harmonized System tariff code with the taxes applied to it.
type HsCode struct {
	ID          int          `gorm:"primary_key" json:"id"`
	Code        string       `gorm:"size:20;not null;uniqueIndex" json:"code"`
	Description string       `gorm:"type:text" json:"description"`
	Taxes       []*HsCodeTax `gorm:"foreignKey:HsCodeId" json:"taxes"`
}

type HsCodeTax struct {
	ID         int             `gorm:"primary_key" json:"id"`
	HsCodeId   int             `gorm:"index;not null" json:"hs_code_id"`
	Name       string          `gorm:"size:100;not null" json:"name"`
	Percentage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"percentage"`
	Kind       string          `gorm:"size:20;not null;default:'PERCENTAGE'" json:"kind"`
}

type NewHsCode struct {
	Code        string          `json:"code" validate:"required,max=20"`
	Description string          `json:"description"`
	Taxes       []*NewHsCodeTax `json:"taxes" validate:"dive"`
}

type NewHsCodeTax struct {
	Name       string          `json:"name" validate:"required"`
	Percentage decimal.Decimal `json:"percentage" validate:"gte=0"`
	Kind       string          `json:"kind"`
}

func CreateHsCode(ctx context.Context, input *NewHsCode) (*HsCode, error) {
	input.Code = strings.TrimSpace(input.Code)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fromStructValidation("hs_code", err)
	}

	db := config.GetDB()
	count, err := utils.ResourceCountWhere[HsCode](ctx, db, "code = ?", input.Code)
	if err != nil {
		return nil, wrapPersistence("create hs code", err)
	}
	if count > 0 {
		return nil, newValidationError("code", "hs code already exists")
	}

	hsCode := HsCode{Code: input.Code, Description: input.Description}
	for _, t := range input.Taxes {
		kind := t.Kind
		if kind == "" {
			kind = "PERCENTAGE"
		}
		hsCode.Taxes = append(hsCode.Taxes, &HsCodeTax{Name: t.Name, Percentage: t.Percentage, Kind: kind})
	}

	// gorm creates the taxes with the code in one transaction
	if err := db.WithContext(ctx).Create(&hsCode).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "CreateHsCode", "create hs code", input.Code, err)
		return nil, wrapPersistence("create hs code", err)
	}
	return &hsCode, nil
}

func ListHsCodes(ctx context.Context) ([]*HsCode, error) {
	var results []*HsCode
	if err := config.GetDB().WithContext(ctx).Preload("Taxes").Order("code").Find(&results).Error; err != nil {
		return nil, wrapPersistence("list hs codes", err)
	}
	return results, nil
}

func ListHsCodeTaxes(ctx context.Context, hsCodeId int) ([]*HsCodeTax, error) {
	if err := utils.ValidateResourceId[HsCode](ctx, config.GetDB(), hsCodeId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, newNotFoundError("hs code", hsCodeId)
		}
		return nil, wrapPersistence("list hs code taxes", err)
	}
	taxes, err := utils.FetchModelsWhere[HsCodeTax](ctx, config.GetDB(), "id", "hs_code_id = ?", hsCodeId)
	if err != nil {
		return nil, wrapPersistence("list hs code taxes", err)
	}
	return taxes, nil
}
