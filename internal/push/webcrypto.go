package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/hitoshi/storygate/internal/model"
)

// aes128gcmヘッダーの構成要素サイズ（RFC 8188）
const (
	saltSize      = 16
	recordSizeLen = 4
	keyIDLenSize  = 1
	p256PubSize   = 65 // 非圧縮P-256公開鍵
	gcmTagSize    = 16
	minRecordSize = 18
)

// DecryptMessage はaes128gcm形式（RFC 8291 / RFC 8188）で暗号化された
// プッシュメッセージを購読の鍵で復号する。購読側（ua）の秘密鍵と
// 認証シークレット、送信側（as）のヘッダー内公開鍵からECDH共有秘密を
// 導出し、HKDFで鍵とノンスを展開して単一レコードを復号する。
func DecryptMessage(body []byte, keys *model.SubscriptionKeys) ([]byte, error) {
	headerLen := saltSize + recordSizeLen + keyIDLenSize
	if len(body) < headerLen {
		return nil, fmt.Errorf("メッセージが短すぎます: %d バイト", len(body))
	}

	salt := body[:saltSize]
	recordSize := binary.BigEndian.Uint32(body[saltSize : saltSize+recordSizeLen])
	keyIDLen := int(body[saltSize+recordSizeLen])

	if recordSize < minRecordSize {
		return nil, fmt.Errorf("レコードサイズが不正です: %d", recordSize)
	}
	if keyIDLen != p256PubSize {
		return nil, fmt.Errorf("keyidの長さが不正です: %d", keyIDLen)
	}
	if len(body) < headerLen+keyIDLen {
		return nil, fmt.Errorf("ヘッダーが不完全です")
	}

	asPubBytes := body[headerLen : headerLen+keyIDLen]
	record := body[headerLen+keyIDLen:]
	if len(record) < gcmTagSize+1 {
		return nil, fmt.Errorf("暗号化レコードが短すぎます")
	}
	if uint32(len(record)) > recordSize {
		return nil, fmt.Errorf("複数レコードのメッセージはサポートしていません")
	}

	curve := ecdh.P256()
	uaPriv, err := curve.NewPrivateKey(keys.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("購読秘密鍵の復元に失敗しました: %w", err)
	}
	asPub, err := curve.NewPublicKey(asPubBytes)
	if err != nil {
		return nil, fmt.Errorf("送信側公開鍵の復元に失敗しました: %w", err)
	}

	sharedSecret, err := uaPriv.ECDH(asPub)
	if err != nil {
		return nil, fmt.Errorf("共有秘密の導出に失敗しました: %w", err)
	}

	// IKM = HKDF(auth_secret, ecdh_secret, "WebPush: info" || 0x00 || ua_public || as_public)
	keyInfo := make([]byte, 0, 14+2*p256PubSize)
	keyInfo = append(keyInfo, []byte("WebPush: info\x00")...)
	keyInfo = append(keyInfo, uaPriv.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, asPubBytes...)

	ikm, err := hkdfDerive(sharedSecret, keys.AuthSecret, keyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("IKMの導出に失敗しました: %w", err)
	}

	cek, err := hkdfDerive(ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, fmt.Errorf("コンテンツ暗号鍵の導出に失敗しました: %w", err)
	}
	nonce, err := hkdfDerive(ikm, salt, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, fmt.Errorf("ノンスの導出に失敗しました: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("暗号器の初期化に失敗しました: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCMモードの初期化に失敗しました: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, record, nil)
	if err != nil {
		return nil, fmt.Errorf("復号に失敗しました: %w", err)
	}

	return stripPadding(plaintext)
}

// hkdfDerive はHKDF-SHA256で指定長の鍵素材を導出する。
func hkdfDerive(secret, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// stripPadding はRFC 8188のパディングを取り除く。最終レコードは
// 平文の末尾にデリミタ0x02とゼロパディングを持つ。
func stripPadding(plaintext []byte) ([]byte, error) {
	i := len(plaintext) - 1
	for i >= 0 && plaintext[i] == 0x00 {
		i--
	}
	if i < 0 || plaintext[i] != 0x02 {
		return nil, fmt.Errorf("パディングのデリミタが不正です")
	}
	return plaintext[:i], nil
}
