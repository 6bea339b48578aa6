package protocol

// Request types
const (
	TypeLogin              = "login"
	TypeRegister           = "register"
	TypeResume             = "resume"
	TypeLogout             = "logout"
	TypePing               = "ping"
	TypeGetCarousel        = "get_carousel"
	TypeGetRecommendations = "get_recommendations"
	TypeGetPromotions      = "get_promotions"
	TypeSearch             = "search"
	TypeGetProductDetail   = "get_product_detail"
	TypeListProducts       = "list_products"
	TypeGetCart            = "get_cart"
	TypeAddToCart          = "add_to_cart"
	TypeRemoveFromCart     = "remove_from_cart"
	TypeCheckout           = "checkout"
	TypeCheckoutSelected   = "checkout_selected"
	TypeCancelCart         = "cancel_cart"
	TypeGetOrders          = "get_orders"
	TypeDeleteOrder        = "delete_order"
	TypeRefundOrder        = "refund_order"
	TypeSetDiscount        = "set_discount"
	TypeRemoveDiscount     = "remove_discount"
	TypeChatSend           = "chat_send"
	TypeChatHistory        = "chat_history"
	TypeChatDelete         = "chat_delete"
	TypeOnlineUsers        = "online_users"
	TypeGetAccount         = "get_account"
	TypeUpdateAccount      = "update_account"
	TypeStatsMonthly       = "stats_monthly"
	TypeStatsProducts      = "stats_products"
)

// Response and push types
const (
	TypeError                  = "error"
	TypeLoginResponse          = "login_response"
	TypeRegisterResponse       = "register_response"
	TypeLogoutResponse         = "logout_response"
	TypePong                   = "pong"
	TypeCarouselData           = "carousel_data"
	TypeRecommendations        = "recommendations"
	TypePromotions             = "promotions"
	TypeSearchResults          = "search_results"
	TypeProductDetail          = "product_detail"
	TypeProductList            = "product_list"
	TypeCartItems              = "cart_items"
	TypeAddToCartResponse      = "add_to_cart_response"
	TypeRemoveFromCartResponse = "remove_from_cart_response"
	TypeCheckoutResponse       = "checkout_response"
	TypeOrderResponse          = "order_response"
	TypeCancelCartResponse     = "cancel_cart_response"
	TypeOrders                 = "orders"
	TypeDeleteOrderResponse    = "delete_order_response"
	TypeRefundOrderResponse    = "refund_order_response"
	TypeSetDiscountResponse    = "set_discount_response"
	TypeRemoveDiscountResponse = "remove_discount_response"
	TypeChatSendResponse       = "chat_send_response"
	TypeChatMessage            = "chat_message"
	TypeChatDeleteResponse     = "chat_delete_response"
	TypeAccountInfo            = "account_info"
	TypeUpdateAccountResponse  = "update_account_response"
)
