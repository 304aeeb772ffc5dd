package validator

import (
	"errors"
	"fmt"
	"strings"

	"signer-core/pkg/bip32"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// Init 复用 gin 自带的 validator 实例并注册自定义规则
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validate = v
		_ = validate.RegisterValidation("derivation_path", validateDerivationPath)
	}
}

// validateDerivationPath 校验形如 44'/60'/0'/0/0 的路径
func validateDerivationPath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	indices, err := bip32.ParsePath(path)
	return err == nil && len(indices) > 0 && len(indices) <= 10
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "请求参数错误"
	}

	var errMsgs []string
	for _, e := range validationErrors {
		field := e.Field()
		param := e.Param()

		switch e.Tag() {
		case "required":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
		case "hexadecimal":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是十六进制字符串", field))
		case "min":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 长度至少为 %s", field, param))
		case "max":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 长度不能超过 %s", field, param))
		case "oneof":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, param))
		case "derivation_path":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 不是有效的派生路径", field))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, e.Tag()))
		}
	}
	return strings.Join(errMsgs, "; ")
}
