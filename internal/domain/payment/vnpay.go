package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carpool/internal/config"
)

const (
	vnpVersion    = "2.1.0"
	vnpCommand    = "pay"
	vnpCurrency   = "VND"
	vnpOrderType  = "other"
	vnpLocale     = "vn"
	vnpDateLayout = "20060102150405"

	vnpCodeSuccess = "00"
)

var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

// responseReasons maps VNPay response codes to failure reasons.
var responseReasons = map[string]string{
	"07": "transaction flagged as suspicious",
	"09": "card or account not registered for internet banking",
	"10": "card authentication failed too many times",
	"11": "payment window expired",
	"12": "card or account is locked",
	"13": "wrong OTP",
	"24": "customer cancelled the transaction",
	"51": "insufficient balance",
	"65": "daily transaction limit exceeded",
	"75": "bank is under maintenance",
	"79": "wrong payment password too many times",
	"99": "unknown gateway error",
}

func failureReason(code string) string {
	if r, ok := responseReasons[code]; ok {
		return r
	}
	return "gateway response code " + code
}

// Gateway builds signed VNPay checkout URLs and verifies callbacks.
type Gateway struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
}

func NewGateway(cfg config.VNPayConfig) *Gateway {
	return &Gateway{
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		payURL:     cfg.PayURL,
		returnURL:  cfg.ReturnURL,
	}
}

func (g *Gateway) CheckoutURL(p *Payment, clientIP string, now time.Time) string {
	v := url.Values{}
	v.Set("vnp_Version", vnpVersion)
	v.Set("vnp_Command", vnpCommand)
	v.Set("vnp_TmnCode", g.tmnCode)
	v.Set("vnp_Amount", strconv.FormatInt(p.Amount*100, 10))
	v.Set("vnp_CurrCode", vnpCurrency)
	v.Set("vnp_TxnRef", p.TxnRef)
	v.Set("vnp_OrderInfo", p.OrderInfo)
	v.Set("vnp_OrderType", vnpOrderType)
	v.Set("vnp_Locale", vnpLocale)
	v.Set("vnp_ReturnUrl", g.returnURL)
	v.Set("vnp_IpAddr", clientIP)
	v.Set("vnp_CreateDate", now.In(vnpLocation).Format(vnpDateLayout))
	v.Set("vnp_ExpireDate", p.ExpiresAt.In(vnpLocation).Format(vnpDateLayout))

	signData := signedParams(v).Encode()
	return g.payURL + "?" + signData + "&vnp_SecureHash=" + g.sign(signData)
}

// Verify checks vnp_SecureHash over every other vnp_* parameter.
func (g *Gateway) Verify(q url.Values) bool {
	given := strings.ToLower(q.Get("vnp_SecureHash"))
	if given == "" {
		return false
	}
	expected := g.sign(signedParams(q).Encode())
	return hmac.Equal([]byte(given), []byte(expected))
}

// Sign returns the secure hash for the vnp_* parameters of q. Used by tests and tooling.
func (g *Gateway) Sign(q url.Values) string {
	return g.sign(signedParams(q).Encode())
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedParams(q url.Values) url.Values {
	out := url.Values{}
	for k, vals := range q {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if len(vals) > 0 && vals[0] != "" {
			out.Set(k, vals[0])
		}
	}
	return out
}
