package server

import (
	"math"

	"github.com/go-playground/validator/v10"
)

// Validator echo 请求校验器
type Validator struct {
	validate *validator.Validate
}

// NewValidator 创建校验器并注册自定义规则
func NewValidator() *Validator {
	v := validator.New()
	// finite: 数值必须是有限数（拒绝 NaN 和 Inf）
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return &Validator{validate: v}
}

// Validate 实现 echo.Validator
func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
