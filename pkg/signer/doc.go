// Package signer はPTV Timetable APIが要求するリクエスト署名を提供する。
//
// 署名対象は "path?query" の文字列そのものであり、クエリの並べ替えや
// エスケープは行わない。鍵はHMAC-SHA1の秘密鍵として使用し、
// ダイジェストを小文字16進数でURL末尾の signature パラメータに付与する。
// ネットワークI/Oは一切行わない純粋関数として実装している。
package signer
