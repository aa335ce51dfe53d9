package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/sirupsen/logrus"
)

// Contact is a supplier, customer or logistics agent referenced by operations.
type Contact struct {
	ID             int         `gorm:"primary_key" json:"id"`
	Name           string      `gorm:"size:255;not null;index" json:"name"`
	Kind           ContactKind `gorm:"size:20;not null;index" json:"kind"`
	Country        string      `gorm:"size:100" json:"country"`
	Province       string      `gorm:"size:100" json:"province"`
	Email          string      `gorm:"size:255" json:"email"`
	Phone          string      `gorm:"size:50" json:"phone"`
	LegalName      string      `gorm:"size:255" json:"legal_name"`
	TaxAddress     string      `gorm:"size:255" json:"tax_address"`
	TaxId          string      `gorm:"size:50" json:"tax_id"`
	Industry       string      `gorm:"size:100" json:"industry"`
	FactoryAddress string      `gorm:"size:255" json:"factory_address"`
	PreferredPort  string      `gorm:"size:100" json:"preferred_port"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewContact struct {
	Name           string      `json:"name" validate:"required,max=255"`
	Kind           ContactKind `json:"kind" validate:"required,oneof=supplier customer logistics_agent"`
	Country        string      `json:"country"`
	Province       string      `json:"province"`
	Email          string      `json:"email" validate:"omitempty,email"`
	Phone          string      `json:"phone"`
	// ISO 3166 alpha-2 region used to read a local phone number; defaults to Country when it is a 2-letter code
	PhoneRegion    string      `json:"phone_region"`
	LegalName      string      `json:"legal_name"`
	TaxAddress     string      `json:"tax_address"`
	TaxId          string      `json:"tax_id"`
	Industry       string      `json:"industry"`
	FactoryAddress string      `json:"factory_address"`
	PreferredPort  string      `json:"preferred_port"`
}

func (input *NewContact) phoneRegion() string {
	if input.PhoneRegion != "" {
		return input.PhoneRegion
	}
	if len(strings.TrimSpace(input.Country)) == 2 {
		return strings.TrimSpace(input.Country)
	}
	return "ZZ"
}

func CreateContact(ctx context.Context, input *NewContact) (*Contact, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fromStructValidation("contact", err)
	}

	phone := strings.TrimSpace(input.Phone)
	// keep what the user typed when it cannot be read as a phone number
	if normalized, err := utils.NormalizePhoneNumber(phone, input.phoneRegion()); err == nil {
		phone = normalized
	}

	contact := Contact{
		Name:           input.Name,
		Kind:           input.Kind,
		Country:        input.Country,
		Province:       input.Province,
		Email:          input.Email,
		Phone:          phone,
		LegalName:      input.LegalName,
		TaxAddress:     input.TaxAddress,
		TaxId:          input.TaxId,
		Industry:       input.Industry,
		FactoryAddress: input.FactoryAddress,
		PreferredPort:  input.PreferredPort,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&contact).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "CreateContact", "create contact", input.Name, err)
		return nil, wrapPersistence("create contact", err)
	}
	config.LogInfo(config.GetLogger(), "models", "CreateContact", "contact created", logrus.Fields{
		"contact_id": contact.ID,
		"kind":       contact.Kind,
	})
	return &contact, nil
}

func GetContact(ctx context.Context, id int) (*Contact, error) {
	contact, err := utils.FetchModel[Contact](ctx, config.GetDB(), id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, newNotFoundError("contact", id)
		}
		return nil, wrapPersistence("get contact", err)
	}
	return contact, nil
}

// ListContacts returns contacts by name; kind is optional.
func ListContacts(ctx context.Context, kind *ContactKind) ([]*Contact, error) {
	condition := ""
	var values []interface{}
	if kind != nil {
		condition = "kind = ?"
		values = append(values, *kind)
	}
	contacts, err := utils.FetchModelsWhere[Contact](ctx, config.GetDB(), "name", condition, values...)
	if err != nil {
		return nil, wrapPersistence("list contacts", err)
	}
	return contacts, nil
}

// FindContactByName returns the first contact of kind with exactly that name.
func FindContactByName(ctx context.Context, kind ContactKind, name string) (*Contact, error) {
	var contact Contact
	result := config.GetDB().WithContext(ctx).
		Where("kind = ? AND name = ?", kind, strings.TrimSpace(name)).
		Order("id").Limit(1).Find(&contact)
	if result.Error != nil {
		return nil, wrapPersistence("find contact", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &ValidationError{Field: string(kind), Message: "no " + string(kind) + " named '" + name + "'"}
	}
	return &contact, nil
}

// DeleteContact refuses to remove a contact still referenced by an operation.
func DeleteContact(ctx context.Context, id int) (*Contact, error) {
	db := config.GetDB()
	contact, err := GetContact(ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Operation](ctx, db,
		"supplier_id = ? OR customer_id = ? OR logistics_agent_id = ?", id, id, id)
	if err != nil {
		return nil, wrapPersistence("delete contact", err)
	}
	if count > 0 {
		return nil, newValidationError("contact", "contact is referenced by existing operations")
	}

	if err := db.WithContext(ctx).Delete(&contact).Error; err != nil {
		return nil, wrapPersistence("delete contact", err)
	}
	return contact, nil
}
