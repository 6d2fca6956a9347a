package logtypes

// catalog maps Management API log type codes to their descriptors.
var catalog = map[string]Type{
	"s": {Name: "Success Login", Level: LevelInfo},
	"ssa": {Name: "Success Silent Auth", Level: LevelInfo},
	"fsa": {Name: "Failed Silent Auth", Level: LevelError},
	"seacft": {Name: "Success Exchange", Description: "Authorization Code for Access Token", Level: LevelInfo},
	"feacft": {Name: "Failed Exchange", Description: "Authorization Code for Access Token", Level: LevelError},
	"seccft": {Name: "Success Exchange", Description: "Client Credentials for Access Token", Level: LevelInfo},
	"feccft": {Name: "Failed Exchange", Description: "Client Credentials for Access Token", Level: LevelError},
	"sepft": {Name: "Success Exchange", Description: "Password for Access Token", Level: LevelInfo},
	"fepft": {Name: "Failed Exchange", Description: "Password for Access Token", Level: LevelError},
	"sertft": {Name: "Success Exchange", Description: "Refresh Token for Access Token", Level: LevelInfo},
	"fertft": {Name: "Failed Exchange", Description: "Refresh Token for Access Token", Level: LevelError},
	"seoobft": {Name: "Success Exchange", Description: "Password and OOB Challenge for Access Token", Level: LevelInfo},
	"feoobft": {Name: "Failed Exchange", Description: "Password and OOB Challenge for Access Token", Level: LevelError},
	"seotpft": {Name: "Success Exchange", Description: "Password and OTP Challenge for Access Token", Level: LevelInfo},
	"feotpft": {Name: "Failed Exchange", Description: "Password and OTP Challenge for Access Token", Level: LevelError},
	"sercft": {Name: "Success Exchange", Description: "Password and MFA Recovery code for Access Token", Level: LevelInfo},
	"fercft": {Name: "Failed Exchange", Description: "Password and MFA Recovery code for Access Token", Level: LevelError},
	"f": {Name: "Failed Login", Level: LevelError},
	"w": {Name: "Warning", Level: LevelWarning},
	"du": {Name: "Deleted User", Level: LevelError},
	"fu": {Name: "Failed Login (invalid email/username)", Level: LevelError},
	"fp": {Name: "Failed Login (wrong password)", Level: LevelError},
	"fc": {Name: "Failed by Connector", Level: LevelError},
	"fco": {Name: "Failed by CORS", Level: LevelError},
	"con": {Name: "Connector Online", Level: LevelInfo},
	"coff": {Name: "Connector Offline", Level: LevelError},
	"fcpro": {Name: "Failed Connector Provisioning", Level: LevelCritical},
	"ss": {Name: "Success Signup", Level: LevelInfo},
	"fs": {Name: "Failed Signup", Level: LevelError},
	"cs": {Name: "Code Sent", Level: LevelInfo},
	"cls": {Name: "Code/Link Sent", Level: LevelInfo},
	"sv": {Name: "Success Verification Email", Level: LevelInfo},
	"fv": {Name: "Failed Verification Email", Level: LevelError},
	"scp": {Name: "Success Change Password", Level: LevelInfo},
	"fcp": {Name: "Failed Change Password", Level: LevelError},
	"sce": {Name: "Success Change Email", Level: LevelInfo},
	"fce": {Name: "Failed Change Email", Level: LevelError},
	"scu": {Name: "Success Change Username", Level: LevelInfo},
	"fcu": {Name: "Failed Change Username", Level: LevelError},
	"scpn": {Name: "Success Change Phone Number", Level: LevelInfo},
	"fcpn": {Name: "Failed Change Phone Number", Level: LevelError},
	"svr": {Name: "Success Verification Email Request", Level: LevelDebug},
	"fvr": {Name: "Failed Verification Email Request", Level: LevelError},
	"scpr": {Name: "Success Change Password Request", Level: LevelInfo},
	"fcpr": {Name: "Failed Change Password Request", Level: LevelError},
	"fn": {Name: "Failed Sending Notification", Level: LevelError},
	"sapi": {Name: "API Operation", Level: LevelInfo},
	"fapi": {Name: "Failed API Operation", Level: LevelError},
	"limit_wc": {Name: "Blocked Account", Level: LevelCritical},
	"limit_mu": {Name: "Blocked IP Address", Level: LevelCritical},
	"limit_ui": {Name: "Too Many Calls to /userinfo", Level: LevelCritical},
	"api_limit": {Name: "Rate Limit On API", Level: LevelCritical},
	"limit_delegation": {Name: "Too Many Calls to /delegation", Level: LevelCritical},
	"sdu": {Name: "Successful User Deletion", Level: LevelInfo},
	"fdu": {Name: "Failed User Deletion", Level: LevelError},
	"slo": {Name: "Success Logout", Level: LevelInfo},
	"flo": {Name: "Failed Logout", Level: LevelError},
	"sd": {Name: "Success Delegation", Level: LevelInfo},
	"fd": {Name: "Failed Delegation", Level: LevelError},
	"gd_unenroll": {Name: "Unenroll device account", Level: LevelInfo},
	"gd_update_device_account": {Name: "Update device account", Level: LevelInfo},
	"gd_module_switch": {Name: "Module switch", Level: LevelInfo},
	"gd_tenant_update": {Name: "Guardian tenant update", Level: LevelInfo},
	"gd_start_auth": {Name: "Second factor started", Level: LevelInfo},
	"gd_start_enroll": {Name: "Enroll started", Level: LevelInfo},
	"gd_user_delete": {Name: "User delete", Level: LevelInfo},
	"gd_auth_succeed": {Name: "OTP Auth suceed", Level: LevelInfo},
	"gd_auth_failed": {Name: "OTP Auth failed", Level: LevelError},
	"gd_send_pn": {Name: "Push notification sent", Level: LevelInfo},
	"gd_auth_rejected": {Name: "OTP Auth rejected", Level: LevelError},
	"gd_recovery_succeed": {Name: "Recovery succeed", Level: LevelInfo},
	"gd_recovery_failed": {Name: "Recovery failed", Level: LevelError},
	"gd_send_sms": {Name: "SMS Sent", Level: LevelInfo},
	"gd_otp_rate_limit_exceed": {Name: "Too many failures", Level: LevelWarning},
	"gd_recovery_rate_limit_exceed": {Name: "Too many failures", Level: LevelWarning},
	"fui": {Name: "Users import", Level: LevelWarning},
	"sui": {Name: "Users import", Level: LevelInfo},
	"pwd_leak": {Name: "Breached password", Level: LevelError},
}
